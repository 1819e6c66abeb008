package connectors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
)

type FactoryConfig struct {
	// BaseURLs maps exchange names to REST base URLs, e.g.
	// "kraken-futures:https://futures.kraken.com/derivatives".
	BaseURLs map[string]string `envconfig:"CONNECTOR_BASE_URLS"`
	// DustQuoteValue is the minimum quote value for spot holdings to count
	// as positions.
	DustQuoteValue string `envconfig:"CONNECTOR_DUST_QUOTE_VALUE" default:"1"`
}

func GetFactoryConfig() FactoryConfig {
	var config FactoryConfig
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// NewForExchange builds the adapter for one exchange link. Exchanges with a
// goex implementation get the goex adapter; everything else goes through
// the generic signed REST adapter.
func NewForExchange(exchange, apiKey, apiSecret string) (ExchangeConnector, error) {
	cfg := GetFactoryConfig()

	dust, err := decimal.NewFromString(cfg.DustQuoteValue)
	if err != nil {
		dust = decimal.NewFromInt(1)
	}

	switch strings.ToLower(exchange) {
	case "binance-spot":
		api := binance.NewWithConfig(&goex.APIConfig{
			HttpClient:   http.DefaultClient,
			Endpoint:     binance.GLOBAL_API_BASE_URL,
			ApiKey:       apiKey,
			ApiSecretKey: apiSecret,
		})
		return NewGoexConnector(exchange, api, goex.USDT, dust), nil

	default:
		baseURL, ok := cfg.BaseURLs[strings.ToLower(exchange)]
		if !ok {
			return nil, fmt.Errorf("no base URL configured for exchange %q", exchange)
		}
		return NewRestConnector(exchange, apiKey, apiSecret, baseURL), nil
	}
}
