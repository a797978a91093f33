package migrate

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
)

// marketplaceTables lists every table the services read or write, keyed by the
// model gorm resolves the table name from.
var marketplaceTables = []any{
	&models.User{},
	&models.Project{},
	&models.Purchase{},
	&models.Subscription{},
	&models.IPFSUpload{},
	&models.WebhookEvent{},
	&models.OutboxEvent{},
	&models.OutboxDLQ{},
}

// VerifySchema reports every marketplace table missing from conn.
func VerifySchema(ctx context.Context, conn *gorm.DB) error {
	migrator := conn.WithContext(ctx).Migrator()
	var err error
	for _, model := range marketplaceTables {
		if !migrator.HasTable(model) {
			stmt := &gorm.Statement{DB: conn}
			name := fmt.Sprintf("%T", model)
			if parseErr := stmt.Parse(model); parseErr == nil {
				name = stmt.Schema.Table
			}
			err = multierr.Append(err, fmt.Errorf("table %s missing", name))
		}
	}
	return err
}
