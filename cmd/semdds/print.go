package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/c360/semdds/dds"
	"github.com/c360/semdds/gateway/websocket"
)

// samplePrinter writes samples as text lines or JSON frames.
type samplePrinter struct {
	out    io.Writer
	asJSON bool
}

func (p samplePrinter) print(topic string, s dds.Sample) error {
	if p.asJSON {
		data, err := json.Marshal(websocket.NewFrame(topic, s))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	}
	info := s.Info
	payload := "-"
	if info.ValidData {
		payload = string(s.Data)
	}
	_, err := fmt.Fprintf(p.out, "%s %s instance=%d %s/%s/%s %s\n",
		info.SourceTimestamp.Format(time.RFC3339Nano),
		topic,
		info.InstanceHandle,
		info.SampleState, info.ViewState, info.InstanceState,
		payload)
	return err
}
