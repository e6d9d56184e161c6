package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/go-redis/redis/v8"
	eventbus "github.com/golly-go/plugins/eventbus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var commands = []*cobra.Command{
	{
		Use:     "listen",
		Short:   "subscribe to a topic and print every envelope received",
		PreRunE: bindCommonFlags,
		RunE:    runListen,
	},
	{
		Use:     "emit",
		Short:   "emit one event and exit",
		PreRunE: bindEmitFlags,
		RunE:    runEmit,
	},
}

// bindCommonFlags re-binds viper's "name"/"addr"/"topic" keys to this
// command's own flag set right before it runs, since every command in
// commands declares its own copy of those flags and viper only ever holds
// one binding per key at a time.
func bindCommonFlags(cmd *cobra.Command, args []string) error {
	for _, name := range []string{"name", "addr", "topic"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func bindEmitFlags(cmd *cobra.Command, args []string) error {
	if err := bindCommonFlags(cmd, args); err != nil {
		return err
	}
	for _, name := range []string{"target", "data"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	v.SetEnvPrefix("EVENTBUS")
	v.AutomaticEnv()

	root := &cobra.Command{Use: "eventbusd"}
	root.AddCommand(commands...)

	for _, cmd := range commands {
		cmd.Flags().String("name", "default", "bus namespace")
		cmd.Flags().String("addr", "127.0.0.1:6379", "redis address")
		cmd.Flags().String("topic", "", "event topic")
	}

	emitCmd, _, _ := root.Find([]string{"emit"})
	emitCmd.Flags().String("target", "", "instance id to unicast to")
	emitCmd.Flags().String("data", "null", "JSON-encoded event payload")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(cmd *cobra.Command, opts ...eventbus.Option) (*eventbus.EventBus, error) {
	cfg := eventbus.Config{
		Name:  v.GetString("name"),
		Redis: &redis.Options{Addr: v.GetString("addr")},
	}

	bus, err := eventbus.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbusd: configure bus: %w", err)
	}
	if err := bus.Init(cmd.Context()); err != nil {
		return nil, fmt.Errorf("eventbusd: connect: %w", err)
	}
	return bus, nil
}

func runListen(cmd *cobra.Command, args []string) error {
	topic := v.GetString("topic")
	if topic == "" {
		return fmt.Errorf("eventbusd: --topic is required")
	}

	bus, err := connect(cmd, eventbus.WithRole(eventbus.RoleConsumer))
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Fprintf(os.Stdout, "listening as %s on %q\n", bus.ID(), topic)

	if err := bus.On(topic, func(ctx context.Context, msg eventbus.Message) error {
		fmt.Fprintf(os.Stdout, "[%s] from=%s mode=%s data=%v\n", msg.ID, msg.Source, msg.Mode, msg.Data)
		return nil
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	return nil
}

func runEmit(cmd *cobra.Command, args []string) error {
	topic := v.GetString("topic")
	if topic == "" {
		return fmt.Errorf("eventbusd: --topic is required")
	}

	bus, err := connect(cmd, eventbus.WithRole(eventbus.RolePublisher))
	if err != nil {
		return err
	}
	defer bus.Close()

	var data interface{}
	if err := json.Unmarshal([]byte(v.GetString("data")), &data); err != nil {
		return fmt.Errorf("eventbusd: --data is not valid JSON: %w", err)
	}

	var emitOpts []eventbus.EmitOption
	if target := v.GetString("target"); target != "" {
		emitOpts = append(emitOpts, eventbus.WithTarget(target))
	}

	id, err := bus.Emit(cmd.Context(), topic, data, emitOpts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "emitted %s as %s\n", topic, id)
	return nil
}
