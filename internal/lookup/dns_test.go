package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"

	"mailgauge/internal/models"
)

func TestNormalizeMX(t *testing.T) {
	tests := []struct {
		name string
		in   []*net.MX
		want []models.MXRecord
	}{
		{
			name: "sorted ascending with trailing dots trimmed",
			in: []*net.MX{
				{Host: "backup.example.com.", Pref: 20},
				{Host: "mx1.example.com.", Pref: 5},
				{Host: "mx2.example.com.", Pref: 10},
			},
			want: []models.MXRecord{
				{Exchange: "mx1.example.com", Priority: 5},
				{Exchange: "mx2.example.com", Priority: 10},
				{Exchange: "backup.example.com", Priority: 20},
			},
		},
		{
			name: "null mx dropped",
			in: []*net.MX{
				{Host: ".", Pref: 0},
			},
			want: []models.MXRecord{},
		},
		{
			name: "null mx dropped alongside real records",
			in: []*net.MX{
				{Host: ".", Pref: 0},
				{Host: "mail.example.org.", Pref: 10},
			},
			want: []models.MXRecord{
				{Exchange: "mail.example.org", Priority: 10},
			},
		},
		{
			name: "equal priority keeps answer order",
			in: []*net.MX{
				{Host: "a.example.net.", Pref: 10},
				{Host: "b.example.net.", Pref: 10},
			},
			want: []models.MXRecord{
				{Exchange: "a.example.net", Priority: 10},
				{Exchange: "b.example.net", Priority: 10},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeMX(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeMX() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyMXError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		domainExists bool
		want         DNSErrorCode
	}{
		{
			name: "nxdomain with no other evidence",
			err:  &net.DNSError{Err: "no such host", Name: "ghost.example", IsNotFound: true},
			want: DNSDomainNotFound,
		},
		{
			name:         "no mx but domain resolves",
			err:          &net.DNSError{Err: "no such host", Name: "web-only.example", IsNotFound: true},
			domainExists: true,
			want:         DNSNoMXRecords,
		},
		{
			name: "lookup timed out",
			err:  &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true, IsTemporary: true},
			want: DNSTimeout,
		},
		{
			name: "server misbehaving",
			err:  &net.DNSError{Err: "server misbehaving", Name: "flaky.example", IsTemporary: true},
			want: DNSServerFailure,
		},
		{
			name: "context deadline surfaces as timeout",
			err:  fmt.Errorf("lookup: %w", context.DeadlineExceeded),
			want: DNSTimeout,
		},
		{
			name: "anything else is a generic dns error",
			err:  errors.New("unreachable network"),
			want: DNSGenericError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyMXError("example.com", tt.err, tt.domainExists)
			if got.Code != tt.want {
				t.Errorf("classifyMXError() code = %s, want %s", got.Code, tt.want)
			}
			if got.Domain != "example.com" {
				t.Errorf("classifyMXError() domain = %s, want example.com", got.Domain)
			}
		})
	}
}

func TestDNSErrorUnwrap(t *testing.T) {
	inner := &net.DNSError{Err: "no such host", IsNotFound: true}
	wrapped := fmt.Errorf("resolve: %w", &DNSError{Code: DNSDomainNotFound, Domain: "x.example", Err: inner})

	de, ok := AsDNSError(wrapped)
	if !ok {
		t.Fatal("AsDNSError() did not find a DNSError in the chain")
	}
	if de.Code != DNSDomainNotFound {
		t.Errorf("code = %s, want %s", de.Code, DNSDomainNotFound)
	}

	var nerr *net.DNSError
	if !errors.As(wrapped, &nerr) {
		t.Error("inner *net.DNSError should remain reachable through Unwrap")
	}
}
