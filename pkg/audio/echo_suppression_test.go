package audio

import (
	"math"
	"testing"
	"time"
)

func generateSine(freq float64, durationMs int, sampleRate int, amp float64) []byte {
	n := sampleRate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		v := amp * math.Sin(2*math.Pi*freq*t)
		s := int16(v * 32767)
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}

func TestEchoSuppressor_IsEchoCorrelation(t *testing.T) {
	es := NewEchoSuppressor()
	played := generateSine(440, 200, 44100, 0.8)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now()

	// A tail slice of the same signal just played should correlate as echo.
	frame := played[len(played)-1764:]
	corr := es.calculateCorrelation(frame, es.playedAudioBuf.Bytes())
	if corr <= es.echoThreshold {
		t.Fatalf("expected high correlation for identical frame; corr=%v threshold=%v", corr, es.echoThreshold)
	}
	if !es.IsEcho(frame) {
		t.Fatalf("IsEcho returned false despite corr=%v", corr)
	}

	// A different frequency should not be classified as echo.
	different := generateSine(880, 200, 44100, 0.8)
	frame2 := different[:1764]
	corr2 := es.calculateCorrelation(frame2, es.playedAudioBuf.Bytes())
	if corr2 > es.echoThreshold {
		t.Fatalf("unexpectedly high correlation for different signal; corr=%v", corr2)
	}
	if es.IsEcho(frame2) {
		t.Fatal("unexpected echo detection for different signal")
	}
}

func TestEchoSuppressor_ResetForTurnClearsBufferOnNewTurn(t *testing.T) {
	es := NewEchoSuppressor()
	played := generateSine(440, 200, 44100, 0.8)

	es.ResetForTurn(1)
	es.RecordPlayedAudio(played)
	if es.playedAudioBuf.Len() == 0 {
		t.Fatal("expected buffer to hold recorded audio for turn 1")
	}

	// A new turn's Play call must discard turn 1's tail before its own
	// audio is recorded, so a barge-in can't have the old turn's echo
	// reference suppress the new turn's genuine speech.
	es.ResetForTurn(2)
	if es.playedAudioBuf.Len() != 0 {
		t.Fatal("expected buffer to be cleared when the active turn changes")
	}

	// Re-arming the same turn id is a no-op.
	es.RecordPlayedAudio(played)
	es.ResetForTurn(2)
	if es.playedAudioBuf.Len() == 0 {
		t.Fatal("ResetForTurn with the same turn id must not clear the buffer")
	}
}
