package credential

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Bundle is the full set of credentials needed to call the resource server
// on behalf of one tenant.
type Bundle struct {
	AccessToken  string
	RefreshToken string
	TenantID     string
	ExpiresAt    time.Time
}

// Empty reports whether no field is set.
func (b Bundle) Empty() bool {
	return b.AccessToken == "" && b.RefreshToken == "" && b.TenantID == "" && b.ExpiresAt.IsZero()
}

// Complete reports whether every field is set.
func (b Bundle) Complete() bool {
	return b.AccessToken != "" && b.RefreshToken != "" && b.TenantID != "" && !b.ExpiresAt.IsZero()
}

// IsValid reports whether b can be used for a call at now: the access token is
// present and the expiry is known and still ahead.
func IsValid(b Bundle, now time.Time) bool {
	if b.AccessToken == "" || b.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(b.ExpiresAt)
}

// Patch is a partial update. Nil fields leave the stored value untouched.
type Patch struct {
	AccessToken  *string
	RefreshToken *string
	TenantID     *string
	ExpiresAt    *time.Time
}

// PatchFrom builds a patch that overwrites every non-zero field of b.
func PatchFrom(b Bundle) Patch {
	var p Patch
	if b.AccessToken != "" {
		p.AccessToken = &b.AccessToken
	}
	if b.RefreshToken != "" {
		p.RefreshToken = &b.RefreshToken
	}
	if b.TenantID != "" {
		p.TenantID = &b.TenantID
	}
	if !b.ExpiresAt.IsZero() {
		t := b.ExpiresAt
		p.ExpiresAt = &t
	}
	return p
}

// Overwrite builds a patch that sets every field of the stored bundle to b's,
// including empty ones.
func Overwrite(b Bundle) Patch {
	return Patch{
		AccessToken:  &b.AccessToken,
		RefreshToken: &b.RefreshToken,
		TenantID:     &b.TenantID,
		ExpiresAt:    &b.ExpiresAt,
	}
}

// Apply merges p into b and returns the result.
func (p Patch) Apply(b Bundle) Bundle {
	if p.AccessToken != nil {
		b.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		b.RefreshToken = *p.RefreshToken
	}
	if p.TenantID != nil {
		b.TenantID = *p.TenantID
	}
	if p.ExpiresAt != nil {
		b.ExpiresAt = *p.ExpiresAt
	}
	return b
}

// wireBundle is the persisted and HTTP shape. expiresAt is epoch milliseconds,
// which is what browser clients hold.
type wireBundle struct {
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	TenantID     string     `json:"tenantId,omitempty"`
	ExpiresAt    *Timestamp `json:"expiresAt,omitempty"`
}

// MarshalJSON encodes b as {accessToken, refreshToken, tenantId, expiresAt}.
func (b Bundle) MarshalJSON() ([]byte, error) {
	w := wireBundle{AccessToken: b.AccessToken, RefreshToken: b.RefreshToken, TenantID: b.TenantID}
	if !b.ExpiresAt.IsZero() {
		ts := Timestamp(b.ExpiresAt)
		w.ExpiresAt = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the shape produced by MarshalJSON.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var w wireBundle
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Bundle{AccessToken: w.AccessToken, RefreshToken: w.RefreshToken, TenantID: w.TenantID}
	if w.ExpiresAt != nil {
		b.ExpiresAt = time.Time(*w.ExpiresAt)
	}
	return nil
}

// Timestamp is an instant encoded as epoch milliseconds. Decoding also accepts
// RFC 3339 strings and numeric strings.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(tt.UnixMilli(), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		ms, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return fmt.Errorf("credential: bad timestamp %s", data)
			}
			ms = int64(f)
		}
		*t = Timestamp(time.UnixMilli(ms).UTC())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("credential: bad timestamp %s", data)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Timestamp(time.UnixMilli(ms).UTC())
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("credential: bad timestamp %q", s)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Token is the result of a successful exchange with the authorization server.
type Token struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the server-reported lifetime; zero means the provider default.
	ExpiresIn time.Duration
	// TenantID is only populated by the authorization-code flow.
	TenantID string
}

// DefaultExpiresIn applies when the server omits expires_in.
const DefaultExpiresIn = time.Hour

// BundleFrom turns an exchanged token into a bundle issued at now.
// Missing refresh token or tenant fall back to prev.
func BundleFrom(tok Token, prev Bundle, now time.Time) Bundle {
	ttl := tok.ExpiresIn
	if ttl <= 0 {
		ttl = DefaultExpiresIn
	}
	b := Bundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TenantID:     tok.TenantID,
		ExpiresAt:    now.Add(ttl).UTC(),
	}
	if b.RefreshToken == "" {
		b.RefreshToken = prev.RefreshToken
	}
	if b.TenantID == "" {
		b.TenantID = prev.TenantID
	}
	return b
}
