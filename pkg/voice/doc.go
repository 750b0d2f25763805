// Package voice turns one spoken or typed utterance into a reply.
//
// A Pipeline runs transcription then generation and reports progress as a
// sequence of typed events. Transports consume the events and re-frame them
// for their wire format:
//
//	p := voice.New(deepgram, generator, voice.Config{Metrics: metrics})
//
//	for ev := range p.Stream(ctx, voice.Request{Audio: audio, History: store}) {
//	    switch ev.Type {
//	    case voice.EventStatus:
//	        fmt.Println("status:", ev.Status)
//	    case voice.EventTranscription, voice.EventResponse:
//	        fmt.Println(ev.Type, ev.Text)
//	    case voice.EventError:
//	        fmt.Println("error:", ev.Message)
//	    }
//	}
//
// # Event Order
//
// An audio run emits, in order:
//
//	status:processing, text:transcription, status:thinking, text:response, status:complete
//
// A text run skips transcription:
//
//	status:thinking, text:response, status:complete
//
// A failure at any stage emits exactly one error event and nothing after it.
// Runs are never retried.
//
// # History
//
// When a Request carries a history.Store, the generator sees the turns
// recorded before this utterance, and the user/assistant pair is appended in
// one call after generation succeeds. Failed runs leave history untouched.
//
// # Latency Metrics
//
// A MetricsCollector records per-stage latency and failure counts:
//
//	stats := metrics.Stats()
//	fmt.Printf("ASR: %dms, LLM: %dms, Total: %dms\n",
//	    stats.Average.ASRLatency.Milliseconds(),
//	    stats.Average.LLMLatency.Milliseconds(),
//	    stats.Average.TotalLatency.Milliseconds(),
//	)
package voice
