package main

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestRunShutdown_OrderAndErrors(t *testing.T) {
	var order []string
	step := func(name string, err error) shutdownStep {
		return shutdownStep{name, func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}

	runShutdown(context.Background(), zerolog.Nop(), []shutdownStep{
		step("live ticker", nil),
		step("scheduler", nil),
		step("subscribers", errors.New("close failed")),
		step("api server", nil),
	})

	want := []string{"live ticker", "scheduler", "subscribers", "api server"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("shutdown order = %v, want %v", order, want)
	}
}
