package dispatch

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mx-proto/mx/message"
)

type arithArgs struct {
	A, B int
}

type arithReply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *arithArgs, reply *arithReply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Divide(args *arithArgs, reply *arithReply) error {
	if args.B == 0 {
		return errors.New("division by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

func TestRegistryInvokesRegisteredMethod(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Arith{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload, err := bson.Marshal(&arithArgs{A: 4, B: 5})
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}

	req := &message.RequestMessage{
		CorrelationID: message.NewCorrelationID(),
		ServiceName:   "Arith",
		MethodName:    "Add",
		Arguments:     payload,
	}

	resp, err := reg.Invoke(context.Background(), req, nil, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.CorrelationID != req.CorrelationID {
		t.Fatal("correlation id not carried through")
	}

	var reply arithReply
	if err := bson.Unmarshal(resp.Result, &reply); err != nil {
		t.Fatalf("bson.Unmarshal: %v", err)
	}
	if reply.Result != 9 {
		t.Fatalf("got %d, want 9", reply.Result)
	}
}

func TestRegistryPropagatesMethodError(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Arith{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload, _ := bson.Marshal(&arithArgs{A: 4, B: 0})
	req := &message.RequestMessage{ServiceName: "Arith", MethodName: "Divide", Arguments: payload}

	_, err := reg.Invoke(context.Background(), req, nil, nil)
	if err == nil || err.Error() != "division by zero" {
		t.Fatalf("got %v, want division by zero", err)
	}
}

func TestRegistryUnknownServiceAndMethod(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Arith{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := reg.Invoke(context.Background(), &message.RequestMessage{ServiceName: "Ghost", MethodName: "Add"}, nil, nil); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("got %v, want ErrServiceNotFound", err)
	}
	if _, err := reg.Invoke(context.Background(), &message.RequestMessage{ServiceName: "Arith", MethodName: "Subtract"}, nil, nil); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("got %v, want ErrMethodNotFound", err)
	}
}

func TestRegisterRejectsNonPointerReceiver(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Arith{}); err == nil {
		t.Fatal("expected an error registering a non-pointer receiver")
	}
}
