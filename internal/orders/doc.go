// Package orders is the order-mutation path: every change is written to the
// order store first and then announced on the broker.
//
// The store is the source of truth. A failed publish never undoes a
// successful write; the caller gets the stored order back together with an
// error wrapping broker.ErrPublishFailed and decides what to do about the
// lost notification.
package orders
