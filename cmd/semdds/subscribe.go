package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/semdds/dds"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
)

type subscribeOptions struct {
	topic    string
	typeName string
	keys     []string
	profile  string
	filter   string
	params   []string
	reliable bool
	durable  bool
	count    int
	wait     time.Duration
	asJSON   bool
}

func newSubscribeCmd(root *rootOptions) *cobra.Command {
	opts := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print the samples of a topic",
		Long: `subscribe prints every sample of --topic with its sample, view and
instance states. Without --type the topic is looked up through discovery.
--filter reads through a content-filtered topic, e.g. --filter "v > %0" --param 10.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withNode(cmd.Context(), func(ctx context.Context, n *node) error {
				return runSubscribe(ctx, n, opts, samplePrinter{out: cmd.OutOrStdout(), asJSON: opts.asJSON})
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.topic, "topic", "t", "", "topic name")
	f.StringVar(&opts.typeName, "type", "", "type name; empty waits for the topic to be discovered")
	f.StringSliceVarP(&opts.keys, "key", "k", nil, "key field paths of the type")
	f.StringVar(&opts.profile, "profile", "", "QoS profile from the library or a preset")
	f.StringVar(&opts.filter, "filter", "", "content filter expression")
	f.StringArrayVar(&opts.params, "param", nil, "filter parameter, repeatable (%0, %1, ...)")
	f.BoolVar(&opts.reliable, "reliable", false, "request RELIABLE reliability")
	f.BoolVar(&opts.durable, "transient-local", false, "request TRANSIENT_LOCAL durability to receive history")
	f.IntVarP(&opts.count, "count", "n", 0, "exit after this many samples; 0 runs until interrupted")
	f.DurationVar(&opts.wait, "wait", 5*time.Second, "how long to wait for the topic to be discovered")
	f.BoolVar(&opts.asJSON, "json", false, "print JSON frames")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runSubscribe(ctx context.Context, n *node, opts *subscribeOptions, printer samplePrinter) error {
	prof, err := n.profile(opts.profile)
	if err != nil {
		return err
	}
	t, err := n.topic(opts.topic, opts.typeName, opts.keys, &prof.Topic, opts.wait)
	if err != nil {
		return err
	}
	var desc dds.TopicDescription = t
	if opts.filter != "" {
		cft, err := n.participant.CreateContentFilteredTopic(opts.topic+"_filtered", t, opts.filter, opts.params)
		if err != nil {
			return err
		}
		desc = cft
	}

	sub, err := n.participant.CreateSubscriber(&prof.Subscriber, nil, dds.StatusNone)
	if err != nil {
		return err
	}
	rq := prof.DataReader
	if opts.reliable {
		rq.Reliability.Kind = qos.ReliableReliability
	}
	if opts.durable {
		rq.Durability.Kind = qos.TransientLocalDurability
		rq.Reliability.Kind = qos.ReliableReliability
	}
	r, err := sub.CreateDataReader(desc, &rq, nil, dds.StatusNone)
	if err != nil {
		return err
	}
	n.logger.Info("subscribed", "topic", opts.topic, "filter", opts.filter)

	return takeLoop(ctx, []*dds.DataReader{r}, func(r *dds.DataReader, s dds.Sample) (bool, error) {
		if err := printer.print(opts.topic, s); err != nil {
			return false, err
		}
		if s.Info.ValidData && opts.count > 0 {
			opts.count--
			return opts.count == 0, nil
		}
		return false, nil
	})
}

// takeLoop waits on the readers and hands every sample to fn until fn
// reports done or ctx ends.
func takeLoop(ctx context.Context, readers []*dds.DataReader, fn func(*dds.DataReader, dds.Sample) (bool, error)) error {
	ws := dds.NewWaitSet()
	for _, r := range readers {
		cond, err := r.CreateReadCondition(dds.NotReadSampleState, dds.AnyViewState, dds.AnyInstanceState)
		if err != nil {
			return err
		}
		if err := ws.AttachCondition(cond); err != nil {
			return err
		}
	}
	for {
		active, err := ws.Wait(ctx, qos.Infinite)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, c := range active {
			rc, ok := c.(*dds.ReadCondition)
			if !ok {
				continue
			}
			r := rc.GetDataReader()
			samples, err := r.TakeWithCondition(-1, rc)
			if errors.Code(err) == errors.RetcodeNoData {
				continue
			}
			if err != nil {
				return fmt.Errorf("take from %s: %w", r.GetTopicDescription().GetName(), err)
			}
			for _, s := range samples {
				done, err := fn(r, s)
				if err != nil || done {
					return err
				}
			}
		}
	}
}
