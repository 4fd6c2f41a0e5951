package main

import (
	"strings"

	"github.com/odinglyn0/entropygen/internal/subscriber"
)

// defaultEndpoints is the built-in set of high-entropy external feeds
// subscribed when ENTROPY_ENDPOINTS is not set. It mirrors spec.md §6's
// configuration table: market data, lightning-strike detection, seismic
// events, certificate-transparency logs, and blockchain tip
// notifications.
var defaultEndpoints = []string{
	"wss://stream.binance.com:9443/ws/btcusdt@trade",
	"wss://stream.binance.com:9443/ws/ethusdt@trade",
	"wss://stream.binance.com:443/stream?streams=btcusdt@trade/ethusdt@trade/bnbusdt@trade",
	"wss://stream.binance.com:9443/ws/btcusdt@depth",
	"wss://fstream.binance.com/ws/btcusdt@aggTrade",
	"wss://advanced-trade-ws.coinbase.com",
	"wss://ws.kraken.com/",
	"wss://ws.okx.com:8443/ws/v5/public",
	"wss://stream.bybit.com/v5/public/spot",
	"wss://ws.blockchain.info/inv",
	"wss://ws.blockchain.info/blocks",
	"wss://stream.binance.com:9443/ws/!ticker@arr",
	"wss://stream.binance.com:9443/ws/!miniTicker@arr",
	"wss://stream.binance.com:9443/ws/btcusdt@kline_1s",
	"wss://ws1.blitzortung.org",
	"wss://ws7.blitzortung.org",
	"wss://ws8.blitzortung.org",
	"wss://www.seismicportal.eu/standing_order/websocket",
	"wss://certstream.calidog.io/",
}

// blitzortungHosts is the init-required subset: endpoints that receive
// the fixed {"a":111} subscription message immediately after connect.
var blitzortungHosts = map[string]bool{
	"wss://ws1.blitzortung.org": true,
	"wss://ws7.blitzortung.org": true,
	"wss://ws8.blitzortung.org": true,
}

// parseEndpoints turns a list of "url" or "url;===;base64(init)" wire
// entries into subscriber.Endpoint values. A base64 decode failure is
// logged by the caller and the endpoint is still returned without its
// init payload, per spec.md §6.
func parseEndpoints(entries []string, onDecodeError func(url string, err error)) []subscriber.Endpoint {
	endpoints := make([]subscriber.Endpoint, 0, len(entries))
	for _, entry := range entries {
		url := entry
		var initPayload string

		if idx := strings.Index(entry, ";===;"); idx >= 0 {
			url = entry[:idx]
			b64 := entry[idx+len(";===;"):]
			decoded, err := subscriber.DecodeInitPayload(b64)
			if err != nil {
				if onDecodeError != nil {
					onDecodeError(url, err)
				}
			} else {
				initPayload = decoded
			}
		}

		endpoints = append(endpoints, subscriber.Endpoint{
			URL:          url,
			InitPayload:  initPayload,
			InitRequired: blitzortungHosts[url],
		})
	}
	return endpoints
}
