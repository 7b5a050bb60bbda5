package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/c360/semdds/dds"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
)

type publishOptions struct {
	topic    string
	typeName string
	keys     []string
	profile  string
	data     string
	seqField string
	count    int
	interval time.Duration
	reliable bool
	wait     time.Duration
	ackWait  time.Duration
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	opts := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Write JSON samples to a topic",
		Long: `publish writes --data to --topic --count times. With --data - every line
of stdin is written as one sample. --seq-field sets a field of each sample
to its sequence number.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withNode(cmd.Context(), func(ctx context.Context, n *node) error {
				return runPublish(ctx, n, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.topic, "topic", "t", "", "topic name")
	f.StringVar(&opts.typeName, "type", "JSON", "type name registered for the topic")
	f.StringSliceVarP(&opts.keys, "key", "k", nil, "key field paths of the type")
	f.StringVar(&opts.profile, "profile", "", "QoS profile from the library or a preset")
	f.StringVar(&opts.data, "data", "{}", "sample JSON, or - to read samples from stdin")
	f.StringVar(&opts.seqField, "seq-field", "", "field set to the sample sequence number")
	f.IntVarP(&opts.count, "count", "n", 1, "number of samples to write")
	f.DurationVar(&opts.interval, "interval", time.Second, "pause between samples")
	f.BoolVar(&opts.reliable, "reliable", false, "write with RELIABLE reliability and wait for acknowledgments")
	f.DurationVar(&opts.wait, "wait", 2*time.Second, "how long to wait for a matching reader before writing")
	f.DurationVar(&opts.ackWait, "ack-timeout", 5*time.Second, "how long to wait for acknowledgments of reliable samples")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runPublish(ctx context.Context, n *node, opts *publishOptions, in io.Reader, out io.Writer) error {
	prof, err := n.profile(opts.profile)
	if err != nil {
		return err
	}
	t, err := n.topic(opts.topic, opts.typeName, opts.keys, &prof.Topic, opts.wait)
	if err != nil {
		return err
	}
	pub, err := n.participant.CreatePublisher(&prof.Publisher, nil, dds.StatusNone)
	if err != nil {
		return err
	}
	wq := prof.DataWriter
	if opts.reliable {
		wq.Reliability.Kind = qos.ReliableReliability
	}
	w, err := pub.CreateDataWriter(t, &wq, nil, dds.StatusNone)
	if err != nil {
		return err
	}

	waitForReader(ctx, w, opts.wait)

	seq := 0
	write := func(sample []byte) error {
		seq++
		if opts.seqField != "" {
			if sample, err = sjson.SetBytes(sample, opts.seqField, seq); err != nil {
				return errors.WrapInvalid(err, "publish", "write", "set sequence field")
			}
		}
		if err := w.Write(sample); err != nil {
			return err
		}
		n.logger.Debug("sample written", "topic", opts.topic, "seq", seq)
		return nil
	}

	if opts.data == "-" {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() && ctx.Err() == nil {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if err := write(append([]byte(nil), line...)); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	} else {
		for i := 0; i < opts.count; i++ {
			if i > 0 && !sleepCtx(ctx, opts.interval) {
				break
			}
			if err := write([]byte(opts.data)); err != nil {
				return err
			}
		}
	}

	if wq.Reliability.Kind == qos.ReliableReliability {
		if err := w.WaitForAcknowledgments(opts.ackWait); err != nil {
			n.logger.Warn("samples not acknowledged", "topic", opts.topic, "error", err)
		}
	}
	_, err = fmt.Fprintf(out, "published %d samples to %s\n", seq, opts.topic)
	return err
}

// waitForReader returns once w has a matched reader or timeout passed.
func waitForReader(ctx context.Context, w *dds.DataWriter, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st, err := w.GetPublicationMatchedStatus(); err == nil && st.CurrentCount > 0 {
			return
		}
		if !sleepCtx(ctx, 20*time.Millisecond) {
			return
		}
	}
}

// sleepCtx sleeps for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
