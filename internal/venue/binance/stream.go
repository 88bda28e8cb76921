package binance

import (
	"strings"

	"tradecore/pkg/websocket"
)

const (
	DefaultStreamURL = "wss://fstream.binance.com/stream"
	DefaultRESTURL   = "https://fapi.binance.com"

	VenueName = "binance"
)

// StreamKind selects a public market stream.
type StreamKind uint8

const (
	StreamBookTicker StreamKind = iota + 1
	StreamDepth
	StreamAggTrade
	StreamForceOrder
	StreamMarkPrice
)

// Stream returns the combined stream name for symbol, e.g. "btcusdt@depth@100ms".
func Stream(symbol string, kind StreamKind) websocket.Topic {
	market := strings.ToLower(symbol)
	switch kind {
	case StreamBookTicker:
		return websocket.Topic(market + "@bookTicker")
	case StreamDepth:
		return websocket.Topic(market + "@depth@100ms")
	case StreamAggTrade:
		return websocket.Topic(market + "@aggTrade")
	case StreamForceOrder:
		return websocket.Topic(market + "@forceOrder")
	case StreamMarkPrice:
		return websocket.Topic(market + "@markPrice@1s")
	default:
		return ""
	}
}

// Streams expands symbols into topics for every kind given.
func Streams(symbols []string, kinds ...StreamKind) []websocket.Topic {
	topics := make([]websocket.Topic, 0, len(symbols)*len(kinds))
	for _, symbol := range symbols {
		for _, kind := range kinds {
			if topic := Stream(symbol, kind); topic != "" {
				topics = append(topics, topic)
			}
		}
	}
	return topics
}

// Codec builds SUBSCRIBE and UNSUBSCRIBE requests.
type Codec struct{}

func (Codec) EncodeSubscribe(dst []byte, requestID uint64, topics []websocket.Topic) (websocket.MessageType, []byte, error) {
	return websocket.MessageText, appendControl(dst, "SUBSCRIBE", requestID, topics), nil
}

func (Codec) EncodeUnsubscribe(dst []byte, requestID uint64, topics []websocket.Topic) (websocket.MessageType, []byte, error) {
	return websocket.MessageText, appendControl(dst, "UNSUBSCRIBE", requestID, topics), nil
}

func appendControl(dst []byte, method string, requestID uint64, topics []websocket.Topic) []byte {
	dst = append(dst, `{"method":"`...)
	dst = append(dst, method...)
	dst = append(dst, `","params":[`...)
	for i, topic := range topics {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '"')
		dst = append(dst, topic...)
		dst = append(dst, '"')
	}
	dst = append(dst, `],"id":`...)
	dst = appendUint(dst, requestID)
	dst = append(dst, '}')
	return dst
}

func appendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}

	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}

	return append(dst, buf[i:]...)
}
