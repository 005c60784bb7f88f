package server

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toValue renders v through its JSON form so wire field names match the
// document store.
func toValue(v any) (*structpb.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

func cardValue(c card.Card) (*structpb.Value, error) { return toValue(c) }

func stateValue(s ledger.State) (*structpb.Value, error) { return toValue(s) }

func cardsValue(cards []card.Card) (*structpb.Value, error) {
	if cards == nil {
		cards = []card.Card{}
	}
	return toValue(cards)
}

// reply builds a response from name/value pairs.
func reply(pairs ...any) (*structpb.Struct, error) {
	fields, err := encodeFields(pairs...)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: fields}, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func boolField(req *structpb.Struct, name string) bool {
	return req.GetFields()[name].GetBoolValue()
}

func requireString(req *structpb.Struct, name string) (string, error) {
	v := stringField(req, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	if n.NumberValue < math.MinInt32 || n.NumberValue > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s is out of range", name)
	}
	return int(n.NumberValue), nil
}

func cardField(req *structpb.Struct, name string) (card.Card, bool, error) {
	v, ok := req.GetFields()[name]
	if !ok || v.GetStructValue() == nil {
		return card.Card{}, false, nil
	}
	raw, err := json.Marshal(v.GetStructValue().AsMap())
	if err != nil {
		return card.Card{}, false, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	var c card.Card
	if err := json.Unmarshal(raw, &c); err != nil {
		return card.Card{}, false, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return c, true, nil
}

// encodeFields converts name/value pairs and fails on the first error.
func encodeFields(pairs ...any) (map[string]*structpb.Value, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd number of arguments")
	}
	out := make(map[string]*structpb.Value, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		var (
			v   *structpb.Value
			err error
		)
		switch val := pairs[i+1].(type) {
		case *structpb.Value:
			v = val
		case card.Card:
			v, err = cardValue(val)
		case []card.Card:
			v, err = cardsValue(val)
		case ledger.State:
			v, err = stateValue(val)
		default:
			v, err = toValue(val)
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode %s: %v", name, err)
		}
		out[name] = v
	}
	return out, nil
}
