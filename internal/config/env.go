package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the process environment of a running atelier server.
type Env struct {
	StripeSecretKey     string `env:"ATELIER_STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"ATELIER_STRIPE_WEBHOOK_SECRET"`
	JWTSecret           string `env:"ATELIER_JWT_SECRET"`
	AppURL              string `env:"ATELIER_APP_URL" envDefault:"http://localhost:3000"`
	OTelEndpoint        string `env:"ATELIER_OTEL_ENDPOINT"`
	LogLevel            string `env:"ATELIER_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

func (e Env) OnboardingRefreshURL() string { return e.AppURL + "/artisan/onboarding/refresh" }

func (e Env) OnboardingReturnURL() string { return e.AppURL + "/artisan/onboarding/complete" }
