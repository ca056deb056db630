package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/engine/auth"
)

func TestHasRole(t *testing.T) {
	cases := []struct {
		actor auth.Role
		need  auth.Role
		want  bool
	}{
		{auth.RoleAssessor, auth.RoleAssessor, true},
		{auth.RoleAssessor, auth.RoleReviewer, false},
		{auth.RoleReviewer, auth.RoleAssessor, true},
		{auth.RoleReviewer, auth.RoleReviewer, true},
		{auth.RoleReviewer, auth.RoleAdministrator, false},
		{auth.RoleAdministrator, auth.RoleReviewer, true},
		{"", auth.RoleAssessor, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, auth.HasRole(auth.Actor{ID: "u", Role: tc.actor}, tc.need), "%s needs %s", tc.actor, tc.need)
	}
}

func TestParseRole(t *testing.T) {
	r, err := auth.ParseRole("reviewer")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleReviewer, r)
	_, err = auth.ParseRole("planner")
	require.Error(t, err)
}
