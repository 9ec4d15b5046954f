// Package onebot speaks OneBot v11 over WebSocket in both directions:
// dialing a NapCat forward endpoint or accepting its reverse connection.
package onebot

import (
	"encoding/json"
	"math"
	"strconv"
)

// Segment is one OneBot v11 message part. Data keys vary by type; NapCat
// serializes ids sometimes as strings and sometimes as numbers, so access
// goes through the coercing getters.
type Segment struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Text builds a plain text segment.
func Text(text string) Segment {
	return Segment{Type: "text", Data: map[string]interface{}{"text": text}}
}

// Str returns a data field as a string; numeric values are formatted.
func (s Segment) Str(key string) string {
	switch v := s.Data[key].(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// Int returns a data field as an int64.
func (s Segment) Int(key string) int64 {
	switch v := s.Data[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Sender describes who sent a message event.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
}

// Event is an incoming OneBot v11 push frame.
type Event struct {
	Time          int64     `json:"time"`
	SelfID        int64     `json:"self_id"`
	PostType      string    `json:"post_type"`
	MessageType   string    `json:"message_type,omitempty"` // "group" or "private"
	SubType       string    `json:"sub_type,omitempty"`
	MessageID     int64     `json:"message_id,omitempty"`
	GroupID       int64     `json:"group_id,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	Message       []Segment `json:"message,omitempty"`
	RawMessage    string    `json:"raw_message,omitempty"`
	Sender        *Sender   `json:"sender,omitempty"`
	NoticeType    string    `json:"notice_type,omitempty"`
	MetaEventType string    `json:"meta_event_type,omitempty"`
}

// Message is the payload of a get_msg response.
type Message struct {
	MessageID  int64     `json:"message_id"`
	Sender     *Sender   `json:"sender,omitempty"`
	Message    []Segment `json:"message"`
	RawMessage string    `json:"raw_message,omitempty"`
}

// Friend is one entry of get_friend_list.
type Friend struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

// Group is one entry of get_group_list.
type Group struct {
	GroupID     int64  `json:"group_id"`
	GroupName   string `json:"group_name"`
	GroupRemark string `json:"group_remark"`
}

type apiRequest struct {
	Action string      `json:"action"`
	Params interface{} `json:"params,omitempty"`
	Echo   string      `json:"echo"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    string          `json:"echo,omitempty"`
}
