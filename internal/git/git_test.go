package git

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcfg "git.home.luguber.info/inful/matrixci/internal/config"
)

func TestClassifyCloneError(t *testing.T) {
	cases := []struct {
		msg  string
		want any
	}{
		{"authentication required", &AuthError{}},
		{"invalid username or password", &AuthError{}},
		{"repository does not exist", &NotFoundError{}},
		{"unsupported protocol scheme", &UnsupportedProtocolError{}},
		{"rate limit exceeded", &RateLimitError{}},
		{"dial tcp: i/o timeout", &NetworkTimeoutError{}},
	}

	for _, c := range cases {
		t.Run(c.msg, func(t *testing.T) {
			err := classifyCloneError("https://example.org/x.git", errors.New(c.msg))
			switch c.want.(type) {
			case *AuthError:
				var target *AuthError
				assert.True(t, errors.As(err, &target))
			case *NotFoundError:
				var target *NotFoundError
				assert.True(t, errors.As(err, &target))
			case *UnsupportedProtocolError:
				var target *UnsupportedProtocolError
				assert.True(t, errors.As(err, &target))
			case *RateLimitError:
				var target *RateLimitError
				assert.True(t, errors.As(err, &target))
			case *NetworkTimeoutError:
				var target *NetworkTimeoutError
				assert.True(t, errors.As(err, &target))
			}
		})
	}
}

func TestClassifyCloneErrorFallback(t *testing.T) {
	cause := errors.New("something odd happened")
	err := classifyCloneError("https://example.org/x.git", cause)
	assert.True(t, errors.Is(err, cause))

	var auth *AuthError
	assert.False(t, errors.As(err, &auth))
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	for _, err := range []error{
		&AuthError{Op: "checkout", URL: "u", Err: cause},
		&NotFoundError{Op: "checkout", URL: "u", Err: cause},
		&UnsupportedProtocolError{Op: "checkout", URL: "u", Err: cause},
		&RateLimitError{Op: "checkout", URL: "u", Err: cause},
		&NetworkTimeoutError{Op: "checkout", URL: "u", Err: cause},
	} {
		assert.True(t, errors.Is(err, cause))
		assert.Contains(t, err.Error(), "root cause")
	}
}

func TestCreateAuth(t *testing.T) {
	auth, err := createAuth(nil)
	require.NoError(t, err)
	assert.Nil(t, auth)

	auth, err = createAuth(&appcfg.AuthConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, auth)

	auth, err = createAuth(&appcfg.AuthConfig{Type: "token", Token: "secret"})
	require.NoError(t, err)
	assert.NotNil(t, auth)

	_, err = createAuth(&appcfg.AuthConfig{Type: "token"})
	assert.Error(t, err)

	_, err = createAuth(&appcfg.AuthConfig{Type: "basic", Username: "u"})
	assert.Error(t, err)

	_, err = createAuth(&appcfg.AuthConfig{Type: "kerberos"})
	assert.Error(t, err)
}

func TestIsCheckout(t *testing.T) {
	assert.False(t, IsCheckout(t.TempDir()))
}
