package webrtcpeer

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func connectPeerConnections(t *testing.T, offerer, answerer *webrtc.PeerConnection) {
	t.Helper()

	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	offerGatherComplete := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription(offer): %v", err)
	}
	<-offerGatherComplete

	offerSDP := offerer.LocalDescription()
	if offerSDP == nil {
		t.Fatalf("missing local offer")
	}
	if err := answerer.SetRemoteDescription(*offerSDP); err != nil {
		t.Fatalf("SetRemoteDescription(offer): %v", err)
	}

	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	answerGatherComplete := webrtc.GatheringCompletePromise(answerer)
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription(answer): %v", err)
	}
	<-answerGatherComplete

	answerSDP := answerer.LocalDescription()
	if answerSDP == nil {
		t.Fatalf("missing local answer")
	}
	if err := offerer.SetRemoteDescription(*answerSDP); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}
