package ledger

import "errors"

var (
	// ErrInsufficientStock is returned when a decrease would take stock below zero.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrMissingWholesalePrice is returned when an increase carries no cost basis.
	ErrMissingWholesalePrice = errors.New("ledger: wholesale price required")
	// ErrProductNotFound is returned for unknown, deleted or foreign-store products.
	ErrProductNotFound = errors.New("ledger: product not found")
	// ErrLotNotFound is returned when a referenced lot does not exist.
	ErrLotNotFound = errors.New("ledger: lot not found")
	// ErrLotExhausted is returned under the strict policy when open lots run out.
	ErrLotExhausted = errors.New("ledger: cost lots exhausted")
	// ErrConsignmentClientNotFound is returned when a consignor reference is dangling.
	ErrConsignmentClientNotFound = errors.New("ledger: consignment client not found")

	ErrInvalidQuantity          = errors.New("ledger: item count must be non-zero")
	ErrInvalidUnitPrice         = errors.New("ledger: unit price must be non-negative with at most 4 decimal places")
	ErrInvalidSourceKind        = errors.New("ledger: unsupported source kind")
	ErrDirectionNotAllowed      = errors.New("ledger: source kind does not allow this direction")
	ErrLotQuantityMismatch      = errors.New("ledger: supplied lots do not sum to item count")
	ErrSameProduct              = errors.New("ledger: source and destination product must differ")
	ErrSaleTermsRequired        = errors.New("ledger: consignment sale requires sale terms")
	ErrNotConsignmentProduct    = errors.New("ledger: product is not consigned")
	ErrUnsupportedPaymentMethod = errors.New("ledger: payment method not supported for consignment")
	ErrEmptyConversion          = errors.New("ledger: conversion needs inputs and outputs")

	// ErrReservationNotFound is returned for unknown order holds.
	ErrReservationNotFound = errors.New("ledger: reservation not found")
	// ErrReservationClosed is returned when a hold was already confirmed or released.
	ErrReservationClosed = errors.New("ledger: reservation already closed")
	// ErrReservationExists is returned when an order already holds stock.
	ErrReservationExists = errors.New("ledger: reservation already exists")
)
