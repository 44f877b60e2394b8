// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	gc "github.com/joshsymonds/dupesweep/internal/gmail"
	"github.com/joshsymonds/dupesweep/internal/sheets"
)

// NewGmailClient builds the Gmail adapter on top of cred. Extra options are
// appended after the authorized HTTP client.
func NewGmailClient(ctx context.Context, cred *Credential, opts ...option.ClientOption) (gc.Client, error) {
	all := append([]option.ClientOption{option.WithHTTPClient(cred.HTTPClient(ctx))}, opts...)
	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc), nil
}

// NewSheetsClient builds the Sheets adapter on top of cred.
func NewSheetsClient(ctx context.Context, cred *Credential, opts ...option.ClientOption) (sheets.Appender, error) {
	all := append([]option.ClientOption{option.WithHTTPClient(cred.HTTPClient(ctx))}, opts...)
	svc, err := sheetsv4.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewSheetsAPIClient(svc), nil
}
