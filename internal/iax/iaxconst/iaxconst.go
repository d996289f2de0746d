// SPDX-License-Identifier: AGPL-3.0-or-later
// iaxhub - an in-process telephony message bus and IAX2 transaction core
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package iaxconst names the wire-level constants of the IAX2 protocol:
// frame types, IAX control subclasses, information-element types, and
// cause codes.
package iaxconst

import "fmt"

// FrameType identifies the payload carried by a full frame.
type FrameType uint8

const (
	FrameDTMF    FrameType = 1
	FrameVoice   FrameType = 2
	FrameVideo   FrameType = 3
	FrameImage   FrameType = 4
	FrameNoise   FrameType = 5
	FrameIAX     FrameType = 6
	FrameHTML    FrameType = 7
	FrameText    FrameType = 8
	FrameControl FrameType = 9
)

func (f FrameType) String() string {
	switch f {
	case FrameDTMF:
		return "DTMF"
	case FrameVoice:
		return "Voice"
	case FrameVideo:
		return "Video"
	case FrameImage:
		return "Image"
	case FrameNoise:
		return "Noise"
	case FrameIAX:
		return "IAX"
	case FrameHTML:
		return "HTML"
	case FrameText:
		return "Text"
	case FrameControl:
		return "Control"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(f))
	}
}

// MarshalBinaryTo writes the 1-byte wire representation into b.
func (f FrameType) MarshalBinaryTo(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("iaxconst: FrameType.MarshalBinaryTo: buffer too short (len=%d)", len(b))
	}
	b[0] = byte(f)
	return nil
}

// UnmarshalBinary reads the 1-byte wire representation from b.
func (f *FrameType) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("iaxconst: FrameType.UnmarshalBinary: buffer too short (len=%d)", len(b))
	}
	*f = FrameType(b[0])
	return nil
}

// Subclass is the subclass byte of a full frame. Its meaning depends on
// FrameType: for FrameIAX it is an IAXSubclass (below); for FrameControl
// it is a ControlSubclass; for FrameVoice/FrameVideo it is a codec bit
// index into a capability mask.
type Subclass uint8

// IAXSubclass values, valid when FrameType == FrameIAX.
const (
	IAXNew       Subclass = 1
	IAXPing      Subclass = 2
	IAXPong      Subclass = 3
	IAXAck       Subclass = 4
	IAXHangup    Subclass = 5
	IAXReject    Subclass = 6
	IAXAccept    Subclass = 7
	IAXAuthReq   Subclass = 8
	IAXAuthRep   Subclass = 9
	IAXInval     Subclass = 10
	IAXLagRq     Subclass = 11
	IAXLagRp     Subclass = 12
	IAXRegReq    Subclass = 13
	IAXRegAuth   Subclass = 14
	IAXRegAck    Subclass = 15
	IAXRegRej    Subclass = 16
	IAXRegRel    Subclass = 17
	IAXVNAK      Subclass = 18
	IAXDpReq     Subclass = 19
	IAXDpRep     Subclass = 20
	IAXDial      Subclass = 21
	IAXTxReq     Subclass = 22
	IAXTxCnt     Subclass = 23
	IAXTxAcc     Subclass = 24
	IAXTxReady   Subclass = 25
	IAXTxRel     Subclass = 26
	IAXTxRej     Subclass = 27
	IAXQuelch    Subclass = 28
	IAXUnquelch  Subclass = 29
	IAXPoke      Subclass = 30
	IAXPageReq   Subclass = 31
	IAXPageAck   Subclass = 32
	IAXMWI       Subclass = 34
	IAXUnsupport Subclass = 35
	IAXTransfer  Subclass = 36
	IAXProvision Subclass = 37
	IAXFwDownl   Subclass = 38
	IAXFwData    Subclass = 39
)

func (s Subclass) String() string {
	switch s {
	case IAXNew:
		return "New"
	case IAXPing:
		return "Ping"
	case IAXPong:
		return "Pong"
	case IAXAck:
		return "Ack"
	case IAXHangup:
		return "Hangup"
	case IAXReject:
		return "Reject"
	case IAXAccept:
		return "Accept"
	case IAXAuthReq:
		return "AuthReq"
	case IAXAuthRep:
		return "AuthRep"
	case IAXInval:
		return "Inval"
	case IAXLagRq:
		return "LagRq"
	case IAXLagRp:
		return "LagRp"
	case IAXRegReq:
		return "RegReq"
	case IAXRegAuth:
		return "RegAuth"
	case IAXRegAck:
		return "RegAck"
	case IAXRegRej:
		return "RegRej"
	case IAXRegRel:
		return "RegRel"
	case IAXVNAK:
		return "VNAK"
	case IAXTxAcc:
		return "TxAcc"
	case IAXTxCnt:
		return "TxCnt"
	case IAXQuelch:
		return "Quelch"
	case IAXUnquelch:
		return "Unquelch"
	case IAXPoke:
		return "Poke"
	case IAXFwDownl:
		return "FwDownl"
	default:
		return fmt.Sprintf("IAXSubclass(%d)", uint8(s))
	}
}

// ControlSubclass values, valid when FrameType == FrameControl.
const (
	ControlHangup      Subclass = 1
	ControlRinging     Subclass = 3
	ControlAnswer      Subclass = 4
	ControlBusy        Subclass = 5
	ControlProgressing Subclass = 8
	ControlOption      Subclass = 11
)

func (s Subclass) ControlString() string {
	switch s {
	case ControlHangup:
		return "Hangup"
	case ControlRinging:
		return "Ringing"
	case ControlAnswer:
		return "Answer"
	case ControlBusy:
		return "Busy"
	case ControlProgressing:
		return "Progressing"
	case ControlOption:
		return "Option"
	default:
		return fmt.Sprintf("ControlSubclass(%d)", uint8(s))
	}
}

// IEType is the 1-byte type field of an information element.
type IEType uint8

const (
	IECallingNumber    IEType = 1
	IECallingAni       IEType = 2
	IECallingName      IEType = 4
	IECalledNumber     IEType = 6
	IECalledContext    IEType = 7
	IEUsername         IEType = 8
	IEPassword         IEType = 9
	IECapability       IEType = 10
	IEFormat           IEType = 11
	IELanguage         IEType = 12
	IEVersion          IEType = 13
	IEAuthMethods      IEType = 14
	IEChallenge        IEType = 15
	IEMD5Result        IEType = 16
	IERSAResult        IEType = 17
	IEApparentAddr     IEType = 18
	IERefresh          IEType = 19
	IEDNID             IEType = 20
	IEProvVer          IEType = 21
	IECallingTON       IEType = 22
	IECallingPres      IEType = 23
	IECallingTNS       IEType = 24
	IESamplingRate     IEType = 25
	IECauseCode        IEType = 26
	IECause            IEType = 34
	IEIAXUnknown       IEType = 35
	IEMsgCount         IEType = 36
	IEAutoAnswer       IEType = 37
	IEMusicOnHold      IEType = 38
	IETransferID       IEType = 39
	IERDNIS            IEType = 40
	IEProvisioning     IEType = 41
	IEAESProvisioning  IEType = 42
	IEDateTime         IEType = 31
	IEDeviceType       IEType = 43
	IEServiceIdent     IEType = 44
	IEFirmwareVer      IEType = 45
	IEFwBlockDesc      IEType = 46
	IEFwBlockData      IEType = 47
	IEProvisioningMisc IEType = 48
	IECallToken        IEType = 54
)

// AuthMethod is a bitmask negotiated in AuthReq/RegAuth.
type AuthMethod uint16

const (
	AuthMD5  AuthMethod = 0x0002
	AuthRSA  AuthMethod = 0x0001
	AuthText AuthMethod = 0x0004
)

// Cause is a numeric cause code carried in IECauseCode.
type Cause uint8

const (
	CauseNormalClearing   Cause = 16
	CauseUserBusy         Cause = 17
	CauseNoAnswer         Cause = 19
	CauseCallRejected     Cause = 21
	CauseInvalidAuth      Cause = 57
	CauseFacilityRejected Cause = 29
	CauseServerShutdown   Cause = 41
	CauseNoMediaFormat    Cause = 65
)

// Default port and protocol version constants.
const (
	DefaultPort     = 4569
	ProtocolVersion = 2
	FullFrameFlag   = 0x80
)

// Codec is a bit position in a capability/format bitmask. The bit order is
// the wire numbering, not the negotiation order; the fallback order lives
// in AudioPrecedence.
type Codec uint32

const (
	CodecG723_1 Codec = 1 << 0
	CodecGSM    Codec = 1 << 1
	CodecULAW   Codec = 1 << 2
	CodecALAW   Codec = 1 << 3
	CodecG726   Codec = 1 << 4
	CodecADPCM  Codec = 1 << 5
	CodecSLIN   Codec = 1 << 6
	CodecLPC10  Codec = 1 << 7
	CodecG729A  Codec = 1 << 8
	CodecSpeex  Codec = 1 << 9
	CodecILBC   Codec = 1 << 10
)

// AudioPrecedence lists audio codecs in the fixed order the negotiation
// falls back to when the peer's offered format does not resolve the
// capability intersection directly.
var AudioPrecedence = []Codec{
	CodecULAW, CodecALAW, CodecG729A, CodecGSM, CodecSpeex, CodecILBC,
	CodecG726, CodecADPCM, CodecSLIN, CodecLPC10, CodecG723_1,
}

// IsAudio reports whether c names exactly one of the recognized audio
// codec bits.
func IsAudio(c Codec) bool {
	for _, candidate := range AudioPrecedence {
		if candidate == c {
			return true
		}
	}
	return false
}
