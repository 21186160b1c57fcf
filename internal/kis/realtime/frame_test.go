package realtime

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/kisbot/internal/kis"
)

func TestParseTick(t *testing.T) {
	tick, err := ParseTick("0|H0UNCNT0|1|005930^093000^71500")
	require.NoError(t, err)
	assert.False(t, tick.Encrypted)
	assert.Equal(t, "H0UNCNT0", tick.Channel)
	assert.Equal(t, 1, tick.Count)
	assert.Equal(t, []string{"005930", "093000", "71500"}, tick.Fields)
	assert.False(t, tick.ReceivedAt.IsZero())

	// 字段内容里出现的 | 属于负载
	tick, err = ParseTick("1|H0STCNI0|1|abc|def")
	require.NoError(t, err)
	assert.True(t, tick.Encrypted)
	assert.Equal(t, []string{"abc|def"}, tick.Fields)
}

func TestParseTickRejectsShortFrames(t *testing.T) {
	for _, raw := range []string{"", "0", "0|H0UNCNT0", "0|H0UNCNT0|1"} {
		_, err := ParseTick(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrMalformedFrame), raw)
	}
}

func TestTickRecords(t *testing.T) {
	tick := Tick{Fields: []string{"a", "1", "b", "2", "c"}}
	assert.Equal(t, [][]string{{"a", "1"}, {"b", "2"}}, tick.Records(2))
	assert.Nil(t, tick.Records(0))
}

func TestParseAck(t *testing.T) {
	ack, err := ParseAck([]byte(`{"header":{"tr_id":"HDFSCNT0","tr_key":"DNASAAPL"},"body":{"rt_cd":"1","msg_cd":"OPSP8996","msg1":"ALREADY IN SUBSCRIBE"}}`))
	require.NoError(t, err)
	assert.Equal(t, "HDFSCNT0", ack.TRID)
	assert.False(t, ack.OK())
	assert.Equal(t, "OPSP8996", ack.MsgCode)

	_, err = ParseAck([]byte(`{not json`))
	assert.Error(t, err)
}

func TestControlFrameShape(t *testing.T) {
	b, err := json.Marshal(newControlFrame("key", trTypeSubscribe, "HDFSCNT0", "DNASAAPL"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"header":{"approval_key":"key","custtype":"P","tr_type":"1","content-type":"utf-8"},
		"body":{"input":{"tr_id":"HDFSCNT0","tr_key":"DNASAAPL"}}
	}`, string(b))
}

func TestChannelsByEnvironment(t *testing.T) {
	assert.Equal(t, "H0STCNI9", DomesticFillChannel(kis.Demo))
	assert.Equal(t, "H0STCNI0", DomesticFillChannel(kis.Live))
	assert.Equal(t, "H0GSCNI9", OverseasFillChannel(kis.Demo))
	assert.Equal(t, "H0GSCNI0", OverseasFillChannel(kis.Live))

	assert.Equal(t, "DNASAAPL", OverseasKey("nas", " aapl "))
	assert.Equal(t, "DTSE7203", OverseasKey("TSE", "7203"))
	assert.Equal(t, "", OverseasKey("XXX", "AAPL"))
}
