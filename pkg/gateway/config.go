package gateway

import "time"

// callTimeout is the fixed budget for a single external gateway call.
// An abort is reported as ErrGatewayTimeout, never as a rejection.
const callTimeout = 25 * time.Second

// Config enumerates every credential the adapters need. Keys are passed
// in explicitly at construction; nothing is read from ambient storage.
type Config struct {
	PaddleAPIKey        string `env:"PADDLE_API_KEY,required"`
	PaddleWebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	PaddleEnvironment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`

	InstantAAPIKey        string `env:"INSTANT_A_API_KEY,required"`
	InstantABaseURL       string `env:"INSTANT_A_BASE_URL,required"`
	InstantAWebhookSecret string `env:"INSTANT_A_WEBHOOK_SECRET,required"`

	InstantBAPIKey        string `env:"INSTANT_B_API_KEY,required"`
	InstantBBaseURL       string `env:"INSTANT_B_BASE_URL,required"`
	InstantBWebhookSecret string `env:"INSTANT_B_WEBHOOK_SECRET,required"`
}
