package protocol

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFrameDecoder_SingleFrame(t *testing.T) {
	d := &FrameDecoder{}
	frames := d.Feed("data: {\"type\":\"chunk\"}\n\n")
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0] != `data: {"type":"chunk"}` {
		t.Errorf("unexpected frame: %q", frames[0])
	}
	if d.Pending() {
		t.Error("expected no pending data after complete frame")
	}
}

func TestFrameDecoder_MultipleFramesOneFeed(t *testing.T) {
	d := &FrameDecoder{}
	frames := d.Feed("first\n\nsecond\n\nthird\n\n")
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("expected %v, got %v", want, frames)
	}
}

func TestFrameDecoder_FrameSpanningFeeds(t *testing.T) {
	d := &FrameDecoder{}
	if frames := d.Feed("data: {\"ty"); frames != nil {
		t.Fatalf("expected no frames from partial feed, got %v", frames)
	}
	if !d.Pending() {
		t.Error("expected pending partial frame")
	}
	frames := d.Feed("pe\":\"end\"}\n\n")
	if len(frames) != 1 || frames[0] != `data: {"type":"end"}` {
		t.Errorf("unexpected frames: %v", frames)
	}
}

func TestFrameDecoder_TerminatorSpanningFeeds(t *testing.T) {
	d := &FrameDecoder{}
	if frames := d.Feed("hello\n"); frames != nil {
		t.Fatalf("expected no frames, got %v", frames)
	}
	frames := d.Feed("\n")
	if len(frames) != 1 || frames[0] != "hello" {
		t.Errorf("unexpected frames: %v", frames)
	}
}

func TestFrameDecoder_BlankFramesDropped(t *testing.T) {
	d := &FrameDecoder{}
	frames := d.Feed("\n\n\n\nreal\n\n\n\n")
	if len(frames) != 1 || frames[0] != "real" {
		t.Errorf("expected only the real frame, got %v", frames)
	}
}

func TestFrameDecoder_DanglingPartialDiscarded(t *testing.T) {
	d := &FrameDecoder{}
	frames := d.Feed("complete\n\ndangling without terminator")
	if len(frames) != 1 || frames[0] != "complete" {
		t.Fatalf("unexpected frames: %v", frames)
	}
	if !d.Pending() {
		t.Error("expected the dangling partial to be pending")
	}
	d.Reset()
	if d.Pending() {
		t.Error("expected no pending data after reset")
	}
	if frames := d.Feed("\n\n"); frames != nil {
		t.Errorf("expected discarded partial to never surface, got %v", frames)
	}
}

func TestFrameDecoder_EmptyFeed(t *testing.T) {
	d := &FrameDecoder{}
	if frames := d.Feed(""); frames != nil {
		t.Errorf("expected no frames, got %v", frames)
	}
	if d.Pending() {
		t.Error("expected no pending data")
	}
}

// Chunking invariance: the frames produced must not depend on how the stream
// is split into fragments.
func TestFrameDecoder_ChunkingInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("split position does not change decoded frames", prop.ForAll(
		func(contents []string, splitAt int) bool {
			stream := ""
			for _, c := range contents {
				stream += c + "\n\n"
			}
			if splitAt > len(stream) {
				splitAt = len(stream)
			}

			whole := &FrameDecoder{}
			wholeFrames := whole.Feed(stream)

			split := &FrameDecoder{}
			splitFrames := split.Feed(stream[:splitAt])
			splitFrames = append(splitFrames, split.Feed(stream[splitAt:])...)

			return reflect.DeepEqual(wholeFrames, splitFrames)
		},
		gen.SliceOf(gen.RegexMatch(`[a-z {}":,]{0,20}`)),
		gen.IntRange(0, 200),
	))

	properties.Property("byte-at-a-time equals one-shot decoding", prop.ForAll(
		func(contents []string) bool {
			stream := ""
			for _, c := range contents {
				stream += c + "\n\n"
			}

			whole := &FrameDecoder{}
			wholeFrames := whole.Feed(stream)

			trickle := &FrameDecoder{}
			var trickleFrames []string
			for i := 0; i < len(stream); i++ {
				trickleFrames = append(trickleFrames, trickle.Feed(stream[i:i+1])...)
			}

			return reflect.DeepEqual(wholeFrames, trickleFrames)
		},
		gen.SliceOf(gen.RegexMatch(`[a-z {}":,]{0,20}`)),
	))

	properties.TestingRun(t)
}
