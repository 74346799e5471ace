package errors

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/awserr"
	pkgerrors "github.com/pkg/errors"
)

// Representation of the fatal conditions of a run. These are divided
// into a small number of categories, essentially distinguished by
// what went wrong and who can fix it; i.e., is this error:
//  - a name that doesn't exist in the inventory (fix the arguments)?
//  - a remote service refusing a call (look at the detail)?
//  - the deployment itself going wrong (look at the instance logs)?
type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

type Type string

const (
	// The thing you mentioned, whatever it is, just doesn't exist
	Missing Type = "missing"
	// A remote service answered a call with something other than success
	Remote Type = "remote"
	// The deployment reached the failed state
	Failed Type = "failed"
	// The deployment didn't reach a terminal state in the time allowed
	Timeout Type = "timeout"
	// An instance didn't come back into service after being re-registered
	Unhealthy Type = "unhealthy"
	// The request was well-formed, but you asked for something that
	// can't work as given (bad custom JSON, no load balancers to manage)
	User Type = "user"
)

// IsType reports whether err, or the error it wraps, is an *Error of
// the given type.
func IsType(err error, t Type) bool {
	if err, ok := pkgerrors.Cause(err).(*Error); ok && err.Type == t {
		return true
	}
	return false
}

func IsMissing(err error) bool {
	return IsType(err, Missing)
}

// Help returns the help text carried by err, if there is any.
func Help(err error) string {
	if err, ok := pkgerrors.Cause(err).(*Error); ok {
		return err.Help
	}
	return ""
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{
		Type: Missing,
		Err:  fmt.Errorf(format, args...),
		Help: `The name given was not found in the OpsWorks inventory. Names are
matched without regard to case; check the spelling, and that you are
looking in the right region and account.
`,
	}
}

// RemoteCall wraps the error returned by a call to a remote service,
// naming the service and the operation. AWS error codes and request
// IDs are kept in the message.
func RemoteCall(service, operation string, err error) *Error {
	detail := err.Error()
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		detail = fmt.Sprintf("%s: %s (status %d, request %s)", reqErr.Code(), reqErr.Message(), reqErr.StatusCode(), reqErr.RequestID())
	} else if awsErr, ok := err.(awserr.Error); ok {
		detail = fmt.Sprintf("%s: %s", awsErr.Code(), awsErr.Message())
	}
	return &Error{
		Type: Remote,
		Err:  fmt.Errorf("error occurred calling %s on %s: %s", operation, service, detail),
	}
}

func UserError(format string, args ...interface{}) *Error {
	return &Error{
		Type: User,
		Err:  fmt.Errorf(format, args...),
	}
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: User,
		Err:  err,
		Help: `Error: ` + err.Error() + `

We don't have a specific help message for the error above.

It would help us remedy this if you log an issue saying what you were
doing when you saw this, and quoting the message at the top.
`,
	}
}
