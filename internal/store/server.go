package store

import (
	"encoding/json"
	"net"

	"github.com/jmgilman/go/errors"
)

// ServeConn answers Requests on conn against hs until the peer hangs up.
func ServeConn(conn net.Conn, hs HostStore) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		_ = enc.Encode(handle(hs, req))
	}
}

func handle(hs HostStore, req Request) Response {
	switch req.Op {
	case "get":
		v, ok, err := hs.Get(req.Key)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Found: ok, Value: v}
	case "set":
		if err := hs.Set(req.Key, req.Value); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case "remove":
		if err := hs.Remove(req.Key); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case "keys":
		keys, err := hs.Keys()
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Keys: keys}
	case "len":
		n, err := hs.Len()
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Len: n}
	default:
		return Response{OK: false, Code: string(errors.CodeInvalidInput), Error: "unknown op"}
	}
}

func failure(err error) Response {
	code := errors.GetCode(err)
	if IsQuotaExceeded(err) {
		code = CodeQuotaExceeded
	}
	return Response{OK: false, Code: string(code), Error: err.Error()}
}
