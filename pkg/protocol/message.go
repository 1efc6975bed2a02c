// Package protocol defines the wire messages exchanged between livequery clients and servers.
package protocol

import json "github.com/goccy/go-json"

// Type discriminates the Message tagged union.
type Type string

// Message types. One message per websocket frame.
const (
	TypeQuery      Type = "QUERY"
	TypeMutation   Type = "MUTATION"
	TypeDataUpdate Type = "DATA_UPDATE"
	TypeRequery    Type = "REQUERY"
	TypeError      Type = "ERROR"
)

// Message is the JSON envelope for every frame. Which fields are meaningful depends on Type:
//
//	QUERY:       id?, queryKey, params?
//	MUTATION:    id?, mutationKey, args?
//	DATA_UPDATE: id?, queryKey?, data
//	REQUERY:     queryKey
//	ERROR:       id?, message, code?, fields?
type Message struct {
	Type        Type              `json:"type"`
	ID          string            `json:"id,omitempty"`
	QueryKey    string            `json:"queryKey,omitempty"`
	MutationKey string            `json:"mutationKey,omitempty"`
	Params      json.RawMessage   `json:"params,omitempty"`
	Args        json.RawMessage   `json:"args,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
	Message     string            `json:"message,omitempty"`
	Code        string            `json:"code,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Key returns the call key of a request message (queryKey for queries, mutationKey for mutations).
func (m *Message) Key() string {
	if m.Type == TypeMutation {
		return m.MutationKey
	}
	return m.QueryKey
}

// Payload returns the argument payload of a request message.
func (m *Message) Payload() json.RawMessage {
	if m.Type == TypeMutation {
		return m.Args
	}
	return m.Params
}

// IsRequest reports whether the message is a client-originated call.
func (m *Message) IsRequest() bool {
	return m.Type == TypeQuery || m.Type == TypeMutation
}

// NewQuery builds a QUERY request.
func NewQuery(id, key string, params json.RawMessage) *Message {
	return &Message{Type: TypeQuery, ID: id, QueryKey: key, Params: params}
}

// NewMutation builds a MUTATION request.
func NewMutation(id, key string, args json.RawMessage) *Message {
	return &Message{Type: TypeMutation, ID: id, MutationKey: key, Args: args}
}

// NewDataUpdate builds a DATA_UPDATE response. queryKey is empty for mutation responses.
func NewDataUpdate(id, queryKey string, data json.RawMessage) *Message {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return &Message{Type: TypeDataUpdate, ID: id, QueryKey: queryKey, Data: data}
}

// NewRequery builds a REQUERY broadcast for the given query key.
func NewRequery(queryKey string) *Message {
	return &Message{Type: TypeRequery, QueryKey: queryKey}
}

// NewError builds an ERROR message.
func NewError(id, code, message string) *Message {
	return &Message{Type: TypeError, ID: id, Code: code, Message: message}
}
