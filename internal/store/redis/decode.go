package redis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"synthtrend/internal/model"
)

var errNoData = errors.New("message has no data field")

// DecodeSourceBar parses a source bar payload. Prices may be JSON numbers or
// numeric strings; a missing or null price decodes as NaN. Exchange, symbol
// and TF fall back to the values encoded in the stream key
// ("bar:{tf}s:{exchange}:{symbol}") when the payload omits them.
func DecodeSourceBar(stream string, data []byte) (model.SourceBar, error) {
	var bar model.SourceBar
	if !gjson.ValidBytes(data) {
		return bar, fmt.Errorf("decode %s: invalid json", stream)
	}
	doc := gjson.ParseBytes(data)

	idx := doc.Get("bar_index")
	if !idx.Exists() {
		return bar, fmt.Errorf("decode %s: bar_index missing", stream)
	}
	bar.BarIndex = int(idx.Int())

	tf, exchange, symbol := parseBarStream(stream)
	bar.TF = int(doc.Get("tf").Int())
	if bar.TF == 0 {
		bar.TF = tf
	}
	bar.Exchange = doc.Get("exchange").String()
	if bar.Exchange == "" {
		bar.Exchange = exchange
	}
	bar.Symbol = doc.Get("symbol").String()
	if bar.Symbol == "" {
		bar.Symbol = symbol
	}

	bar.Open = price(doc.Get("open"))
	bar.High = price(doc.Get("high"))
	bar.Low = price(doc.Get("low"))
	bar.Close = price(doc.Get("close"))
	bar.Forming = doc.Get("forming").Bool()

	ts, err := parseTS(doc.Get("ts"))
	if err != nil {
		return bar, fmt.Errorf("decode %s: ts: %w", stream, err)
	}
	bar.TS = ts
	return bar, nil
}

func price(v gjson.Result) model.Float {
	switch v.Type {
	case gjson.Number:
		return model.Float(v.Num)
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return model.NaN()
		}
		return model.Float(f)
	}
	return model.NaN()
}

// parseTS accepts RFC 3339 strings and unix seconds or milliseconds.
func parseTS(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.Null:
		return time.Time{}, nil
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	case gjson.String:
		return time.Parse(time.RFC3339Nano, v.Str)
	}
	return time.Time{}, fmt.Errorf("unsupported %s", v.Type)
}

// parseBarStream splits "bar:{tf}s:{exchange}:{symbol}". Unknown layouts
// yield zero values.
func parseBarStream(stream string) (tf int, exchange, symbol string) {
	parts := strings.SplitN(stream, ":", 4)
	if len(parts) != 4 || parts[0] != "bar" {
		return 0, "", ""
	}
	n, err := strconv.Atoi(strings.TrimSuffix(parts[1], "s"))
	if err != nil {
		return 0, parts[2], parts[3]
	}
	return n, parts[2], parts[3]
}

// messageBar extracts and decodes the data field of a stream message.
func messageBar(stream string, values map[string]interface{}) (model.SourceBar, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.SourceBar{}, errNoData
	}
	return DecodeSourceBar(stream, []byte(data))
}
