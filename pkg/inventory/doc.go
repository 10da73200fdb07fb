// Package inventory implements the inventory document model: a validated,
// typed mapping from section names (BIOS, HARDWARE, CPUS, SOFTWARES, ...) to
// records, built up by probe modules and serialized for submission.
//
// The lifecycle of a document is:
//
//	doc := inventory.New(inventory.Params{DeviceID: id, Logger: logger})
//	doc.SetBios(inventory.Record{"SMANUFACTURER": "ACME"})
//	doc.AddEntry("CPUS", inventory.Record{"NAME": "..."})
//	doc.ComputeChecksum(opts)          // change suppression between runs
//	msg := doc.Envelope(serverVersion) // normalized JSON protocol message
//
// Validation happens at two levels. On insertion, unknown sections are
// rejected and unknown fields silently dropped with a debug trace, so probe
// bugs cannot leak garbage into the document. On normalization, field values
// are coerced to their declared types (integer, boolean, date, datetime),
// legacy field names are renamed to their modern JSON equivalents, and
// entries missing a required field are dropped entirely.
//
// Change suppression (ComputeChecksum) compares a per-section sha256 digest
// against the state persisted from the previous run and strips unchanged
// sections, turning the submission into a partial one. BIOS and HARDWARE are
// always kept so the server can match the asset. A postpone counter forces a
// full inventory after too many consecutive partial submissions.
package inventory
