package domain

import "testing"

func TestEnvelopeCodeMapsEveryErrorKind(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want int
	}{
		{ErrParse, -32700},
		{ErrInvalidRequest, -32600},
		{ErrMethodNotFound, -32601},
		{ErrInvalidParams, -32602},
		{ErrUnauthorized, -32001},
		{ErrForbidden, -32002},
		{ErrRateLimited, -32003},
		{ErrQuotaExceeded, -32004},
		{ErrNoCredentials, -32005},
		{ErrUpstreamUnauthorized, -32006},
		{ErrUpstreamRateLimited, -32007},
		{ErrUpstreamTimeout, -32008},
		{ErrUpstreamError, -32009},
		// Spec §8 scenario 3: a restricted-model rejection must surface
		// as invalid_params, not an internal error.
		{ErrModelNotAllowed, -32602},
		{ErrInternal, -32603},
	}
	for _, c := range cases {
		if got := c.kind.EnvelopeCode(); got != c.want {
			t.Errorf("%s.EnvelopeCode() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestEnvelopeCodeDefaultsUnknownKindToInternal(t *testing.T) {
	if got := ErrorKind("something_unmodeled").EnvelopeCode(); got != -32603 {
		t.Errorf("expected an unmodeled kind to map to internal, got %d", got)
	}
}
