package apierr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToStatus_MapsEachTypedError(t *testing.T) {
	cases := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{&InvalidArgument{Field: "document", Reason: "contains /"}, StatusInvalidArgument},
		{&InvalidVersion{Requested: 1, Oldest: 5}, StatusInvalidVersion},
		{&RefGraphNotDAG{Cycle: []string{"a", "b", "a"}}, StatusRefGraphNotDAG},
		{&NamespaceDeleted{RootPath: "/x", Reason: "gc_timeout"}, StatusError},
		{&PermissionDenied{Reason: "no acl"}, StatusPermissionDenied},
		{&Unauthenticated{Reason: "missing token"}, StatusUnauthenticated},
		{&UIDInUse{UID: "w1"}, StatusUIDInUse},
		{&UnknownUID{UID: "w1"}, StatusUnknownUID},
		{fmt.Errorf("boom"), StatusError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ToStatus(tc.err))
	}
}

func TestBuildFailed_Unwraps(t *testing.T) {
	cause := fmt.Errorf("disk error")
	bf := &BuildFailed{Document: "routes", Cause: cause}
	assert.ErrorIs(t, bf, cause)
}
