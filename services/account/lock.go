package account

import (
	"context"
	"errors"

	"smallbiznis-cashback/pkg/db/option"

	"gorm.io/gorm"
)

// GenesisHash is the chain head of a card that has no transactions yet.
const GenesisHash = "GENESIS"

// LockCardByCode reads a card row with SELECT ... FOR UPDATE inside tx.
func LockCardByCode(ctx context.Context, tx *gorm.DB, code string) (*Card, error) {
	var card Card
	err := option.LockingUpdate(tx.WithContext(ctx)).Where("code = ?", code).Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// LockCardByID is LockCardByCode keyed by primary key.
func LockCardByID(ctx context.Context, tx *gorm.DB, id string) (*Card, error) {
	var card Card
	err := option.LockingUpdate(tx.WithContext(ctx)).Where("id = ?", id).Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// LockCustomer reads a customer row with SELECT ... FOR UPDATE inside tx.
func LockCustomer(ctx context.Context, tx *gorm.DB, tenantID, id string) (*Customer, error) {
	var customer Customer
	err := option.LockingUpdate(tx.WithContext(ctx)).Where("id = ? AND tenant_id = ?", id, tenantID).Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindStore returns the store when it exists in the tenant.
func FindStore(ctx context.Context, tx *gorm.DB, tenantID, id string) (*Store, error) {
	var store Store
	err := tx.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Take(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}
