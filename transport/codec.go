package transport

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

// Wire messages exchanged over NATS are MessagePack maps with short keys.
// Unknown keys are skipped.

func encodeMessage(msg Message) ([]byte, error) {
	b := msgp.AppendMapHeader(nil, 2)
	b = msgp.AppendString(b, "n")
	b = msgp.AppendString(b, msg.Name)
	b = msgp.AppendString(b, "p")

	b, err := msgp.AppendIntf(b, msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("rewind: failed to encode payload of %q: %w", msg.Name, err)
	}

	return b, nil
}

func decodeMessage(b []byte) (Message, error) {
	var msg Message
	err := readMap(b, func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case "n":
			msg.Name, b, err = msgp.ReadStringBytes(b)
		case "p":
			msg.Payload, b, err = msgp.ReadIntfBytes(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})

	return msg, err
}

// handshakeRequest is sent by a reconnecting client.
type handshakeRequest struct {
	Client    string
	Handshake types.Handshake
}

func encodeHandshake(req handshakeRequest) []byte {
	b := msgp.AppendMapHeader(nil, 3)
	b = msgp.AppendString(b, "c")
	b = msgp.AppendString(b, req.Client)
	b = msgp.AppendString(b, "ch")
	b = appendStrings(b, req.Handshake.Channels)
	b = msgp.AppendString(b, "t")
	b = msgp.AppendInt64(b, req.Handshake.LastDisconnectTime)

	return b
}

func decodeHandshake(b []byte) (handshakeRequest, error) {
	var req handshakeRequest
	err := readMap(b, func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case "c":
			req.Client, b, err = msgp.ReadStringBytes(b)
		case "ch":
			req.Handshake.Channels, b, err = readStrings(b)
		case "t":
			req.Handshake.LastDisconnectTime, b, err = msgp.ReadInt64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})

	return req, err
}

func encodeReplayResult(result rewind.ReplayResult, replayErr error) []byte {
	b := msgp.AppendMapHeader(nil, 5)
	b = msgp.AppendString(b, "f")
	b = msgp.AppendBool(b, result.FirstConnection)
	b = msgp.AppendString(b, "n")
	b = msgp.AppendInt(b, result.Channels)
	b = msgp.AppendString(b, "r")
	b = msgp.AppendInt(b, result.Replayed)
	b = msgp.AppendString(b, "x")
	b = appendStrings(b, result.Failed)
	b = msgp.AppendString(b, "e")
	if replayErr != nil {
		b = msgp.AppendString(b, replayErr.Error())
	} else {
		b = msgp.AppendString(b, "")
	}

	return b
}

func decodeReplayResult(b []byte) (rewind.ReplayResult, string, error) {
	var (
		result rewind.ReplayResult
		msg    string
	)
	err := readMap(b, func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case "f":
			result.FirstConnection, b, err = msgp.ReadBoolBytes(b)
		case "n":
			result.Channels, b, err = msgp.ReadIntBytes(b)
		case "r":
			result.Replayed, b, err = msgp.ReadIntBytes(b)
		case "x":
			result.Failed, b, err = readStrings(b)
		case "e":
			msg, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})

	return result, msg, err
}

// membershipRequest changes a client's channel set on the server.
type membershipRequest struct {
	Client   string
	Op       string
	Channel  string
	Channels []string // opRestore only
}

const (
	opJoin       = "join"
	opLeave      = "leave"
	opRestore    = "restore"
	opDisconnect = "disconnect"
)

func encodeMembership(req membershipRequest) []byte {
	b := msgp.AppendMapHeader(nil, 4)
	b = msgp.AppendString(b, "c")
	b = msgp.AppendString(b, req.Client)
	b = msgp.AppendString(b, "op")
	b = msgp.AppendString(b, req.Op)
	b = msgp.AppendString(b, "ch")
	b = msgp.AppendString(b, req.Channel)
	b = msgp.AppendString(b, "chs")
	b = appendStrings(b, req.Channels)

	return b
}

func decodeMembership(b []byte) (membershipRequest, error) {
	var req membershipRequest
	err := readMap(b, func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case "c":
			req.Client, b, err = msgp.ReadStringBytes(b)
		case "op":
			req.Op, b, err = msgp.ReadStringBytes(b)
		case "ch":
			req.Channel, b, err = msgp.ReadStringBytes(b)
		case "chs":
			req.Channels, b, err = readStrings(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})

	return req, err
}

func readMap(b []byte, field func(key string, b []byte) ([]byte, error)) error {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return err
	}

	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return err
		}

		b, err = field(string(key), b)
		if err != nil {
			return fmt.Errorf("rewind: failed to decode field %q: %w", key, err)
		}
	}

	return nil
}

func appendStrings(b []byte, ss []string) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(ss))) //nolint:gosec // bounded by message size
	for _, s := range ss {
		b = msgp.AppendString(b, s)
	}

	return b
}

func readStrings(b []byte) ([]string, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}

	ss := make([]string, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var s string
		s, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, b, err
		}
		ss = append(ss, s)
	}

	return ss, b, nil
}

func encodeMembershipReply(channels []string, replyErr error) []byte {
	b := msgp.AppendMapHeader(nil, 2)
	b = msgp.AppendString(b, "ch")
	b = appendStrings(b, channels)
	b = msgp.AppendString(b, "e")
	if replyErr != nil {
		b = msgp.AppendString(b, replyErr.Error())
	} else {
		b = msgp.AppendString(b, "")
	}

	return b
}

func decodeMembershipReply(b []byte) ([]string, string, error) {
	var (
		channels []string
		msg      string
	)
	err := readMap(b, func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case "ch":
			channels, b, err = readStrings(b)
		case "e":
			msg, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})

	return channels, msg, err
}
