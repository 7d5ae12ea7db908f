// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cashless

// pollEventKind enumerates the cashless reader poll conditions this driver
// acts on, matching the firmware's original PollEvent match arms: session
// requests it must reject, vend outcomes, session lifecycle confirmations,
// and the two conditions (Malfunction, CmdOutOfSequence) that force a
// reinitialization.
type pollEventKind int

const (
	pollBeginSession pollEventKind = iota
	pollVendApproved
	pollVendDenied
	pollSessionCancelRequest
	pollCancelled
	pollEndSession
	pollMalfunction
	pollCmdOutOfSequence
)

type pollEvent struct {
	kind   pollEventKind
	amount uint16
	code   byte
}

// Cashless opcode table. The distilled spec gives the same framing rule
// it gives the coin acceptor (a status byte with bit 7 set, or a
// multi-byte record otherwise) but, unlike the coin acceptor, no exact
// byte values survive in original_source for the cashless side — only the
// PollEvent match arms the firmware dispatches on. These codes are this
// driver's own opcode assignment, built on the coin acceptor's framing
// convention.
const (
	statusSessionCancelRequest  = 0x01
	statusCancelled             = 0x02
	statusCmdOutOfSequence      = 0x03
	statusEndSession            = 0x04
	statusVendDenied            = 0x05
	statusBeginSessionBasic     = 0x06
	statusBeginSessionAdvanced  = 0x07
)

const (
	recordVendApproved = 0x01 // + 2 amount bytes, big-endian
	recordMalfunction  = 0x02 // + 1 malfunction code byte
)

func decodePoll(activity []byte) []pollEvent {
	var events []pollEvent

	for i := 0; i < len(activity); i++ {
		b := activity[i]

		if b&0x80 != 0 {
			switch b & 0x7F {
			case statusSessionCancelRequest:
				events = append(events, pollEvent{kind: pollSessionCancelRequest})
			case statusCancelled:
				events = append(events, pollEvent{kind: pollCancelled})
			case statusCmdOutOfSequence:
				events = append(events, pollEvent{kind: pollCmdOutOfSequence})
			case statusEndSession:
				events = append(events, pollEvent{kind: pollEndSession})
			case statusVendDenied:
				events = append(events, pollEvent{kind: pollVendDenied})
			case statusBeginSessionBasic, statusBeginSessionAdvanced:
				events = append(events, pollEvent{kind: pollBeginSession})
			}
			continue
		}

		switch b {
		case recordVendApproved:
			if i+2 >= len(activity) {
				return events
			}
			amount := uint16(activity[i+1])<<8 | uint16(activity[i+2])
			events = append(events, pollEvent{kind: pollVendApproved, amount: amount})
			i += 2
		case recordMalfunction:
			if i+1 >= len(activity) {
				return events
			}
			events = append(events, pollEvent{kind: pollMalfunction, code: activity[i+1]})
			i++
		}
	}

	return events
}
