// Package traffic provides the writers traffic reports are delivered to.
package traffic

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/factory"
	"Go2NetNodes/internal/model"
)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse)
	})
	factory.RegisterWriter("file", func(def config.WriterDef) (model.Writer, error) {
		return NewGobWriter(def.File.RootPath), nil
	})
	factory.RegisterWriter("nats", func(def config.WriterDef) (model.Writer, error) {
		return NewNATSWriter(def.NATS)
	})
}
