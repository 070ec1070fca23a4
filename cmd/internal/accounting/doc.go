// Package accounting is the client for the external accounting service's
// invoice API. It builds query-language statements, maps faults to typed
// errors, and models invoices as a typed core plus an opaque extension bag
// that round-trips untouched.
//
// All calls go through an authenticated gateway; this package never sees
// credentials.
package accounting
