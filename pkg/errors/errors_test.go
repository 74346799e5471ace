package errors

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsTypeThroughWrapping(t *testing.T) {
	err := pkgerrors.Wrap(NotFound("stack %q not found", "web"), "resolving stack")
	assert.True(t, IsMissing(err))
	assert.False(t, IsType(err, Remote))
	assert.Contains(t, Help(err), "not found in the OpsWorks inventory")
}

func TestIsTypePlainError(t *testing.T) {
	assert.False(t, IsMissing(errors.New("boom")))
	assert.Equal(t, "", Help(errors.New("boom")))
}

func TestRemoteCallDetail(t *testing.T) {
	for name, tc := range map[string]struct {
		err    error
		expect string
	}{
		"plain": {
			err:    errors.New("connection reset"),
			expect: "error occurred calling DescribeStacks on opsworks: connection reset",
		},
		"aws error": {
			err:    awserr.New("ThrottlingException", "Rate exceeded", nil),
			expect: "error occurred calling DescribeStacks on opsworks: ThrottlingException: Rate exceeded",
		},
		"request failure": {
			err:    awserr.NewRequestFailure(awserr.New("ValidationException", "bad stack", nil), 400, "req-1"),
			expect: "error occurred calling DescribeStacks on opsworks: ValidationException: bad stack (status 400, request req-1)",
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := RemoteCall("opsworks", "DescribeStacks", tc.err)
			assert.Equal(t, Remote, err.Type)
			assert.Equal(t, tc.expect, err.Error())
		})
	}
}

func TestCoverAllError(t *testing.T) {
	err := CoverAllError(errors.New("odd"))
	assert.Equal(t, User, err.Type)
	assert.Contains(t, err.Help, "Error: odd")
}
