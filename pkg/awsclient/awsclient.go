package awsclient

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/elb/elbiface"
	"github.com/aws/aws-sdk-go/service/opsworks"
	"github.com/aws/aws-sdk-go/service/opsworks/opsworksiface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Config struct {
	// Profile names a shared credentials profile; empty means the
	// default credential chain.
	Profile        string
	OpsWorksRegion string
	ELBRegion      string
	// RPS and Burst pace requests across both services. RPS <= 0
	// means no pacing.
	RPS   float64
	Burst int
}

type Clients struct {
	OpsWorks opsworksiface.OpsWorksAPI
	ELB      elbiface.ELBAPI
}

// New builds the OpsWorks and ELB clients. The SDK's own retries are
// turned off: any failed call is final.
func New(config Config, logger log.Logger) (*Clients, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Profile:           config.Profile,
		SharedConfigState: session.SharedConfigEnable,
		Config: aws.Config{
			MaxRetries: aws.Int(0),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}

	if config.RPS > 0 {
		limiter := rate.NewLimiter(rate.Limit(config.RPS), burst(config.Burst))
		sess.Handlers.Build.PushFrontNamed(PacingHandler(limiter))
		logger.Log("info", "pacing AWS requests", "rps", config.RPS, "burst", burst(config.Burst))
	}

	return &Clients{
		OpsWorks: opsworks.New(sess, aws.NewConfig().WithRegion(config.OpsWorksRegion)),
		ELB:      elb.New(sess, aws.NewConfig().WithRegion(config.ELBRegion)),
	}, nil
}

func burst(b int) int {
	if b < 1 {
		return 1
	}
	return b
}

// PacingHandler makes each request wait for the limiter before it is
// built. Waiting is bounded by the request's context.
func PacingHandler(limiter *rate.Limiter) request.NamedHandler {
	return request.NamedHandler{
		Name: "easydeploy.PacingHandler",
		Fn: func(r *request.Request) {
			if err := limiter.Wait(r.Context()); err != nil {
				r.Error = errors.Wrap(err, "waiting for request pacing")
			}
		},
	}
}
