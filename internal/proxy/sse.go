package proxy

import (
	"bufio"
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/canonical"
)

// streamResult summarizes a drained stream for accounting.
type streamResult struct {
	Usage     *canonical.Usage
	Citations []string
	Errored   bool
}

// writeSSE streams canonical chunks as Server-Sent Events. Chunks are
// forwarded in receipt order; the terminal chunk of a completed stream
// carries usage (the provider strategies guarantee it), an error chunk
// carries none, and the stream ends with [DONE].
// onComplete fires once the stream drains, with the final usage for the
// ledger and log queue.
func writeSSE(ctx *fasthttp.RequestCtx, stream <-chan canonical.Chunk, onComplete func(streamResult)) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		var res streamResult

		// Client disconnects surface as writer panics. The stream must
		// still be drained so the provider goroutine exits, and accounting
		// must still fire with whatever counts were delivered.
		defer func() {
			if r := recover(); r != nil {
				for chunk := range stream {
					if chunk.Usage != nil {
						res.Usage = chunk.Usage
					}
				}
			}
			if onComplete != nil {
				onComplete(res)
			}
		}()

		for chunk := range stream {
			if chunk.Err != nil {
				res.Errored = true
			}
			if chunk.Usage != nil {
				res.Usage = chunk.Usage
			}
			if len(chunk.Citations) > 0 {
				res.Citations = append(res.Citations, chunk.Citations...)
			}
			fmt.Fprintf(w, "data: %s\n\n", chunk.MarshalSSE())
			w.Flush() //nolint:errcheck
		}

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}
