package credential

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		b    Bundle
		want bool
	}{
		{"empty", Bundle{}, false},
		{"future expiry", Bundle{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}, true},
		{"past expiry", Bundle{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}, false},
		{"expiry equals now", Bundle{AccessToken: "a", ExpiresAt: now}, false},
		{"missing expiry", Bundle{AccessToken: "a"}, false},
		{"missing access token", Bundle{RefreshToken: "r", ExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsValid(tc.b, now))
			// Repeated checks never change the answer.
			require.Equal(t, tc.want, IsValid(tc.b, now))
		})
	}
}

func TestPatchApply_MergesOnlyProvidedFields(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Bundle{AccessToken: "a1", RefreshToken: "r1", TenantID: "t1", ExpiresAt: exp}

	access := "a2"
	got := Patch{AccessToken: &access}.Apply(base)

	require.Equal(t, "a2", got.AccessToken)
	require.Equal(t, "r1", got.RefreshToken)
	require.Equal(t, "t1", got.TenantID)
	require.Equal(t, exp, got.ExpiresAt)

	require.Equal(t, base, PatchFrom(base).Apply(Bundle{}))
	require.Equal(t, base, Patch{}.Apply(base))
}

func TestBundleJSON(t *testing.T) {
	exp := time.UnixMilli(1_767_225_600_000).UTC()
	b := Bundle{AccessToken: "a", RefreshToken: "r", TenantID: "123", ExpiresAt: exp}

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	require.JSONEq(t, `{"accessToken":"a","refreshToken":"r","tenantId":"123","expiresAt":1767225600000}`, string(raw))

	var back Bundle
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, b, back)

	raw, err = json.Marshal(Bundle{})
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(raw))
}

func TestTimestamp_AcceptsClientShapes(t *testing.T) {
	want := time.UnixMilli(1_767_225_600_000).UTC()

	for _, in := range []string{
		`{"expiresAt":1767225600000}`,
		`{"expiresAt":"1767225600000"}`,
		`{"expiresAt":"2026-01-01T00:00:00Z"}`,
	} {
		var b Bundle
		require.NoError(t, json.Unmarshal([]byte(in), &b), in)
		require.True(t, want.Equal(b.ExpiresAt), in)
	}

	var b Bundle
	require.Error(t, json.Unmarshal([]byte(`{"expiresAt":"tomorrow"}`), &b))
}

func TestBundleFrom(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := Bundle{RefreshToken: "r1", TenantID: "realm-9"}

	got := BundleFrom(Token{AccessToken: "a2"}, prev, now)
	require.Equal(t, "a2", got.AccessToken)
	require.Equal(t, "r1", got.RefreshToken, "refresh token carried when not rotated")
	require.Equal(t, "realm-9", got.TenantID, "tenant carried forward")
	require.Equal(t, now.Add(DefaultExpiresIn), got.ExpiresAt)

	got = BundleFrom(Token{AccessToken: "a3", RefreshToken: "r3", ExpiresIn: 10 * time.Minute}, prev, now)
	require.Equal(t, "r3", got.RefreshToken)
	require.Equal(t, now.Add(10*time.Minute), got.ExpiresAt)
	require.True(t, got.Complete())
}
