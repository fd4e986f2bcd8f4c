package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/resilience"
	"github.com/stretchr/testify/suite"
)

type CircuitBreakerSuite struct {
	suite.Suite
}

func (s *CircuitBreakerSuite) exec(cb *resilience.CircuitBreaker, err error) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error {
		return err
	})
}

func (s *CircuitBreakerSuite) TestInitialStateClosed() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "t"})
	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestSuccessfulExecution() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "t"})
	s.NoError(s.exec(cb, nil))
	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestOpensAfterFailureThreshold() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "t", FailureThreshold: 3})
	testErr := errors.New("failure")

	for i := 0; i < 3; i++ {
		s.Error(s.exec(cb, testErr))
	}

	s.Equal(resilience.StateOpen, cb.State())
}

func (s *CircuitBreakerSuite) TestOpenCircuitRejectsRequests() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "t",
		FailureThreshold: 1,
		Timeout:          10 * time.Second,
	})

	s.exec(cb, errors.New("failure"))

	err := s.exec(cb, nil)
	s.ErrorIs(err, resilience.ErrCircuitOpen)
}

func (s *CircuitBreakerSuite) TestHalfOpenAfterTimeout() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "t",
		FailureThreshold: 1,
		Timeout:          50 * time.Millisecond,
	})

	s.exec(cb, errors.New("failure"))
	s.Equal(resilience.StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	s.NoError(s.exec(cb, nil))
}

func (s *CircuitBreakerSuite) TestClosesAfterSuccessThreshold() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "t",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	s.exec(cb, errors.New("failure"))
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		s.exec(cb, nil)
	}

	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestReopensOnHalfOpenFailure() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "t",
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	s.exec(cb, errors.New("failure"))
	time.Sleep(20 * time.Millisecond)
	s.exec(cb, errors.New("failure again"))

	s.Equal(resilience.StateOpen, cb.State())
}

func (s *CircuitBreakerSuite) TestForceOpenAndClose() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "t"})
	cb.ForceOpen()
	s.Equal(resilience.StateOpen, cb.State())
	cb.ForceClose()
	s.Equal(resilience.StateClosed, cb.State())
}

func (s *CircuitBreakerSuite) TestMetrics() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "t", FailureThreshold: 5})

	for i := 0; i < 3; i++ {
		s.exec(cb, errors.New("failure"))
	}

	m := cb.Metrics()
	s.Equal(resilience.StateClosed, m.State)
	s.Equal(int64(3), m.Failures)
}

func TestCircuitBreakerSuite(t *testing.T) {
	suite.Run(t, new(CircuitBreakerSuite))
}
