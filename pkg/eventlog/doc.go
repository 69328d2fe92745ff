// Package eventlog records session and marker events of a capture run.
//
// # Journal Format
//
// Goals:
//
//  1. Keep a machine-readable record next to the human console output
//  2. Survive a crash: every event is synced before the next byte is read
//  3. Stay greppable
//
// Each event is one record:
//
//	stream timestamp length: content\n
//
// # Fields
//
//   - stream: one of session-start, session-end, error-marker, info-marker.
//   - timestamp: UTC time in the layout 2006-01-02T15:04:05.000000000Z
//   - length: byte length of content
//   - `: ` literal separator
//   - content: exactly length bytes. For session events the log filename,
//     for markers the local MM-DD-YY_HH:MM time that was printed on the
//     console.
//
// # Example
//
//	session-start 2024-03-07T09:05:42.000000000Z 30: captest_log_03-07-24_09:05.txt
//	error-marker 2024-03-07T09:41:00.000000000Z 14: 03-07-24_09:41
//	session-end 2024-03-07T09:44:10.000000000Z 30: captest_log_03-07-24_09:05.txt
//
// The length prefix means content may hold spaces, colons or newlines
// without confusing the reader.
package eventlog
