// Package qrcode renders instant-payment payloads as QR images using
// github.com/skip2/go-qrcode. The checkout flow returns both the raw
// copy-and-paste code and the data-URI image produced here.
package qrcode
