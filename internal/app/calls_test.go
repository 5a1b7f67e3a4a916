package app

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/core/coretest"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legacyCall(target string) InitiateRequest {
	return InitiateRequest{Target: domain.UserID(target), Kind: domain.CallVideo, Dialect: domain.DialectLegacy}
}

func rtcCall(target string, group bool) InitiateRequest {
	return InitiateRequest{Target: domain.UserID(target), Kind: domain.CallAudio, Group: group, Dialect: domain.DialectWebRTC}
}

func TestLegacyCallLifecycle(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	bob, bobConn := f.connect("bob")

	id, ok := f.calls.Initiate(alice, legacyCall("bob"))
	require.True(t, ok)

	incoming := bobConn.OfType(core.EvIncomingCall)
	require.Len(t, incoming, 1)
	fields := incoming[0].Fields()
	assert.Equal(t, "alice", fields["callerId"])
	assert.Equal(t, "video", fields["callType"])
	assert.Equal(t, "alice-bob", fields["roomId"])
	assert.Equal(t, false, fields["isGroup"])
	assert.Empty(t, aliceConn.OfType(core.EvIncomingCall))

	require.True(t, f.calls.Accept(bob, "alice", domain.DialectLegacy, nil))
	accepted := aliceConn.OfType(core.EvCallAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "alice-bob", accepted[0].Fields()["roomId"])
	assert.Equal(t, domain.StatusAccepted, lastStatus(f, id))

	drainAll(aliceConn, bobConn)
	assert.Equal(t, 1, f.calls.End(bob, "alice", domain.DialectLegacy, ""))
	assert.Len(t, aliceConn.OfType(core.EvCallEnded), 1)
	assert.Len(t, bobConn.OfType(core.EvCallEnded), 1)
	assert.Equal(t, domain.StatusEnded, lastStatus(f, id))
	assert.Equal(t, 0, f.calls.Len())

	drainAll(aliceConn, bobConn)
	assert.Equal(t, 0, f.calls.End(alice, "bob", domain.DialectLegacy, ""))
	assert.Empty(t, aliceConn.Events())
	assert.Empty(t, bobConn.Events())
}

func TestInitiateOfflineTargetCreatesNothing(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	_, anonConn := f.connect("")

	_, ok := f.calls.Initiate(alice, legacyCall("bob"))
	assert.False(t, ok)
	assert.Equal(t, []string{core.CodeUserOffline}, errorCodes(aliceConn))
	assert.Empty(t, anonConn.Events())
	assert.Equal(t, 0, f.calls.Len())
	assert.Empty(t, f.changes)
}

func TestInitiateGuards(t *testing.T) {
	f := newFixture(t)
	anon, anonConn := f.connect("")
	alice, aliceConn := f.connect("alice")
	f.connect("bob")

	_, ok := f.calls.Initiate(anon, legacyCall("bob"))
	assert.False(t, ok)
	assert.Equal(t, []string{core.CodeNotRegistered}, errorCodes(anonConn))

	_, ok = f.calls.Initiate(alice, legacyCall("alice"))
	assert.False(t, ok)

	_, ok = f.calls.Initiate(alice, legacyCall("bob"))
	require.True(t, ok)
	_, ok = f.calls.Initiate(alice, legacyCall("bob"))
	assert.False(t, ok)
	assert.Equal(t, []string{core.CodeBadPayload, core.CodeCallInProgress}, errorCodes(aliceConn))
	assert.Equal(t, 1, f.calls.Len())
}

func TestAcceptWithoutCall(t *testing.T) {
	f := newFixture(t)
	f.connect("alice")
	bob, bobConn := f.connect("bob")

	assert.False(t, f.calls.Accept(bob, "alice", domain.DialectWebRTC, nil))
	assert.False(t, f.calls.Accept(bob, "carol", domain.DialectWebRTC, nil))
	assert.Equal(t, []string{core.CodeCallNotFound, core.CodeCallerDisconnected}, errorCodes(bobConn))
}

func TestAcceptAfterCallerVanished(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	bob, bobConn := f.connect("bob")

	id, ok := f.calls.Initiate(alice, rtcCall("bob", false))
	require.True(t, ok)
	// caller unbound without its disconnect reaching the call table yet
	f.reg.Unregister("alice", alice.Conn)

	assert.False(t, f.calls.Accept(bob, "alice", domain.DialectWebRTC, nil))
	assert.Equal(t, []string{core.CodeCallerDisconnected}, errorCodes(bobConn))
	assert.Equal(t, domain.StatusMissed, lastStatus(f, id))
	assert.Equal(t, 0, f.calls.Len())
}

func TestRejectNotifiesCaller(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	bob, _ := f.connect("bob")

	id, _ := f.calls.Initiate(alice, rtcCall("bob", false))
	require.True(t, f.calls.Reject(bob, "alice", domain.DialectWebRTC, "busy"))

	rejected := aliceConn.OfType(core.EvRTCRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "busy", rejected[0].Fields()["reason"])
	assert.Equal(t, domain.StatusRejected, lastStatus(f, id))

	drainAll(aliceConn)
	assert.False(t, f.calls.Reject(bob, "alice", domain.DialectWebRTC, ""))
	assert.Empty(t, aliceConn.Events())
}

func TestNegotiationForwardedVerbatim(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	bob, bobConn := f.connect("bob")
	id, _ := f.calls.Initiate(alice, rtcCall("bob", false))
	drainAll(bobConn)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\nopaque"}`)
	require.True(t, f.calls.Forward(alice, NegotiationOffer, "bob", offer))

	got := bobConn.OfType(core.EvRTCOffer)
	require.Len(t, got, 1)
	var p NegotiationPayload
	require.NoError(t, got[0].Decode(&p))
	assert.JSONEq(t, string(offer), string(p.Offer))
	assert.Equal(t, id, p.CallID)
	assert.Equal(t, domain.UserID("alice"), p.CallerID)

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}`)
	require.True(t, f.calls.Forward(bob, NegotiationCandidate, "alice", cand))
}

func TestNegotiationWithoutCallDropped(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	_, bobConn := f.connect("bob")

	assert.False(t, f.calls.Forward(alice, NegotiationOffer, "bob", json.RawMessage(`{}`)))
	assert.Empty(t, bobConn.Events())
	assert.Empty(t, errorCodes(aliceConn))
}

func TestNegotiationPeerOffline(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	bob, bobConn := f.connect("bob")
	f.calls.Initiate(alice, rtcCall("bob", false))
	require.True(t, f.calls.Accept(bob, "alice", domain.DialectWebRTC, nil))

	f.reg.Unregister("alice", alice.Conn)
	assert.False(t, f.calls.Forward(bob, NegotiationAnswer, "alice", json.RawMessage(`{}`)))
	assert.Equal(t, []string{core.CodeCallerOffline}, errorCodes(bobConn))
}

func TestDisconnectMissesPendingCall(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	_, bobConn := f.connect("bob")
	id, _ := f.calls.Initiate(alice, rtcCall("bob", false))
	drainAll(bobConn)

	assert.Equal(t, 1, f.disconnect(alice))

	left := bobConn.OfType(core.EvRTCLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].Fields()["userId"])
	ended := bobConn.OfType(core.EvRTCEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, core.ReasonPeerDisconnected, ended[0].Fields()["reason"])
	assert.Equal(t, domain.StatusMissed, lastStatus(f, id))
	assert.Equal(t, 0, f.calls.Len())
}

func TestDisconnectEndsAcceptedCall(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	bob, _ := f.connect("bob")
	id, _ := f.calls.Initiate(alice, legacyCall("bob"))
	f.calls.Accept(bob, "alice", domain.DialectLegacy, nil)
	drainAll(aliceConn)

	f.disconnect(bob)
	assert.Len(t, aliceConn.OfType(core.EvCallEnded), 1)
	assert.Equal(t, domain.StatusEnded, lastStatus(f, id))
}

func TestStaleDisconnectKeepsNewerBinding(t *testing.T) {
	f := newFixture(t)
	oldTab, _ := f.connect("alice")
	f.connect("alice")

	f.disconnect(oldTab)
	assert.True(t, f.presence.IsOnline("alice"))
}

func TestDisconnectOnlyTouchesOwnedCalls(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	f.connect("bob")
	f.calls.Initiate(alice, rtcCall("bob", false))

	otherTab := alice
	otherTab.Conn = "somewhere-else"
	assert.Equal(t, 0, f.calls.Disconnect(otherTab.Conn, "alice"))
	assert.Equal(t, 1, f.calls.Len())
}

func TestMissAndTerminate(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	bob, bobConn := f.connect("bob")
	id, _ := f.calls.Initiate(alice, rtcCall("bob", false))
	drainAll(bobConn)

	require.NoError(t, f.calls.Miss(id, ""))
	assert.Len(t, aliceConn.OfType(core.EvRTCEnded), 1)
	ended := bobConn.OfType(core.EvRTCEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, core.ReasonMissed, ended[0].Fields()["reason"])
	assert.ErrorIs(t, f.calls.Miss(id, ""), ErrCallNotFound)

	id2, _ := f.calls.Initiate(alice, rtcCall("bob", false))
	f.calls.Accept(bob, "alice", domain.DialectWebRTC, nil)
	assert.ErrorIs(t, f.calls.Miss(id2, ""), domain.ErrInvalidTransition)
	require.NoError(t, f.calls.Terminate(id2))
	assert.Equal(t, domain.StatusEnded, lastStatus(f, id2))
}

func TestEndWithoutTargetEndsEveryLiveCall(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	f.connect("bob")
	_, carolConn := f.connect("carol")
	f.calls.Initiate(alice, rtcCall("bob", false))
	f.calls.Initiate(alice, rtcCall("carol", false))
	drainAll(carolConn)

	assert.Equal(t, 2, f.calls.End(alice, "", domain.DialectWebRTC, ""))
	assert.Len(t, carolConn.OfType(core.EvRTCEnded), 1)
	assert.Equal(t, 0, f.calls.Len())
}

func TestGroupCall(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	bob, bobConn := f.connect("bob")
	carol, carolConn := f.connect("carol")
	dave, _ := f.connect("dave")

	id, ok := f.calls.Initiate(alice, rtcCall("bob", true))
	require.True(t, ok)
	require.True(t, f.calls.AddParticipant(alice, "carol"))
	require.True(t, f.calls.AddParticipant(alice, "dave"))

	incoming := carolConn.OfType(core.EvRTCIncoming)
	require.Len(t, incoming, 1)
	assert.Equal(t, true, incoming[0].Fields()["isGroup"])
	assert.Equal(t, "group-"+string(id), incoming[0].Fields()["roomId"])

	require.True(t, f.calls.Accept(bob, "alice", domain.DialectWebRTC, nil))
	require.True(t, f.calls.Accept(carol, "alice", domain.DialectWebRTC, nil))
	joined := bobConn.OfType(core.EvRTCJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "carol", joined[0].Fields()["userId"])

	require.True(t, f.calls.Reject(dave, "alice", domain.DialectWebRTC, ""))
	call, ok := f.calls.Get(id)
	require.True(t, ok)
	assert.Equal(t, []domain.UserID{"bob", "carol"}, call.Recipients)

	f.disconnect(carol)
	call, ok = f.calls.Get(id)
	require.True(t, ok)
	assert.Equal(t, []domain.UserID{"bob"}, call.Recipients)
	assert.Len(t, aliceConn.OfType(core.EvRTCLeft), 1)

	drainAll(aliceConn, bobConn)
	f.calls.End(bob, "", domain.DialectWebRTC, "")
	assert.Len(t, aliceConn.OfType(core.EvRTCEnded), 1)
	assert.Equal(t, 0, f.calls.Len())
}

func TestAddParticipantNeedsGroupCall(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	f.connect("bob")
	f.calls.Initiate(alice, rtcCall("bob", false))

	assert.False(t, f.calls.AddParticipant(alice, "carol"))
	assert.Equal(t, []string{core.CodeCallNotFound}, errorCodes(aliceConn))
}

func TestTerminalCallsLeaveTable(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect("alice")
	bob, _ := f.connect("bob")
	for range 3 {
		f.calls.Initiate(alice, legacyCall("bob"))
		f.calls.Reject(bob, "alice", domain.DialectLegacy, "")
	}
	assert.Equal(t, 0, f.calls.Len())
	assert.Empty(t, f.calls.Live())
	for _, c := range f.changes {
		if c.Status.Terminal() {
			assert.False(t, c.EndedAt.IsZero())
		}
	}
}

func TestCrossingCallsFirstAcceptWins(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect("alice")
	bob, bobConn := f.connect("bob")

	aliceToBob, ok := f.calls.Initiate(alice, rtcCall("bob", false))
	require.True(t, ok)
	bobToAlice, ok := f.calls.Initiate(bob, rtcCall("alice", false))
	require.True(t, ok)
	drainAll(aliceConn, bobConn)

	require.True(t, f.calls.Accept(bob, "alice", domain.DialectWebRTC, nil))
	assert.Equal(t, domain.StatusAccepted, lastStatus(f, aliceToBob))
	assert.Equal(t, domain.StatusEnded, lastStatus(f, bobToAlice))

	for _, c := range []*coretest.Conn{aliceConn, bobConn} {
		ended := c.OfType(core.EvRTCEnded)
		require.Len(t, ended, 1)
		var p CallEndedPayload
		require.NoError(t, ended[0].Decode(&p))
		assert.Equal(t, bobToAlice, p.CallID)
		assert.Equal(t, core.ReasonSuperseded, p.Reason)
	}

	assert.False(t, f.calls.Accept(alice, "bob", domain.DialectWebRTC, nil))
	assert.Equal(t, []string{core.CodeCallNotFound}, errorCodes(aliceConn))

	live := f.calls.Live()
	require.Len(t, live, 1)
	assert.Equal(t, aliceToBob, live[0].ID)
}
