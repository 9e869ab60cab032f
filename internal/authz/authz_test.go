package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAllAuthenticator_AlwaysAllows(t *testing.T) {
	var a Authenticator = AllowAllAuthenticator{}
	d, err := a.Authenticate(context.Background(), Request{RootPath: "/etc/mhconf", Document: "routes", Action: "get"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
