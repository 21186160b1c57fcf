package realtime

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const pingPongTRID = "PINGPONG"

// ErrMalformedFrame 数据帧不足 4 段
var ErrMalformedFrame = errors.New("malformed realtime frame")

// Tick 一条实时数据帧：<加密标志>|<频道>|<条数>|<字段1>^<字段2>^...
// 客户端只负责按结构切分，不解释字段含义。
type Tick struct {
	Encrypted  bool
	Channel    string
	Count      int
	Fields     []string
	ReceivedAt time.Time
}

// Records 按每条记录的字段数切分多条记录的帧，末尾不足一条的部分丢弃
func (t Tick) Records(fieldsPerRecord int) [][]string {
	if fieldsPerRecord <= 0 {
		return nil
	}
	var out [][]string
	for i := 0; i+fieldsPerRecord <= len(t.Fields); i += fieldsPerRecord {
		out = append(out, t.Fields[i:i+fieldsPerRecord])
	}
	return out
}

// Ack 订阅/退订应答等 JSON 控制消息
type Ack struct {
	TRID    string
	TRKey   string
	RtCd    string
	MsgCode string
	Message string
}

// OK 应答成功
func (a Ack) OK() bool { return a.RtCd == "0" }

// ParseTick 解析数据帧
func ParseTick(raw string) (Tick, error) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) < 4 {
		return Tick{}, errors.Wrapf(ErrMalformedFrame, "%d segments", len(parts))
	}
	count, _ := strconv.Atoi(parts[2])
	return Tick{
		Encrypted:  parts[0] == "1",
		Channel:    parts[1],
		Count:      count,
		Fields:     strings.Split(parts[3], "^"),
		ReceivedAt: time.Now(),
	}, nil
}

type ackFrame struct {
	Header struct {
		TRID  string `json:"tr_id"`
		TRKey string `json:"tr_key"`
	} `json:"header"`
	Body struct {
		RtCd  string `json:"rt_cd"`
		MsgCd string `json:"msg_cd"`
		Msg1  string `json:"msg1"`
	} `json:"body"`
}

// ParseAck 解析 JSON 控制消息
func ParseAck(raw []byte) (Ack, error) {
	var f ackFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Ack{}, errors.Wrap(err, "decode ack frame")
	}
	return Ack{
		TRID:    f.Header.TRID,
		TRKey:   f.Header.TRKey,
		RtCd:    f.Body.RtCd,
		MsgCode: f.Body.MsgCd,
		Message: f.Body.Msg1,
	}, nil
}

// 订阅/退订控制帧
type controlFrame struct {
	Header controlHeader `json:"header"`
	Body   controlBody   `json:"body"`
}

type controlHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TRType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type controlBody struct {
	Input controlInput `json:"input"`
}

type controlInput struct {
	TRID  string `json:"tr_id"`
	TRKey string `json:"tr_key"`
}

const (
	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "0"
)

func newControlFrame(approvalKey, trType, channel, key string) controlFrame {
	return controlFrame{
		Header: controlHeader{
			ApprovalKey: approvalKey,
			CustType:    "P",
			TRType:      trType,
			ContentType: "utf-8",
		},
		Body: controlBody{Input: controlInput{TRID: channel, TRKey: key}},
	}
}
