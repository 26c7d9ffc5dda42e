package outbound

import (
	"github.com/Outbound-Project/outbound-bot/core"
	"github.com/Outbound-Project/outbound-bot/pipeline"
	"github.com/Outbound-Project/outbound-bot/provider/drive"
	filestore "github.com/Outbound-Project/outbound-bot/store/file"
	kvstore "github.com/Outbound-Project/outbound-bot/store/kv"
)

func FileStateStore(path string) (core.StateStore, error) {
	return filestore.New(path)
}

func KVStateStore(cfg kvstore.Config) (core.StateStore, error) {
	return kvstore.New(cfg)
}

func MemoryStateStore() core.StateStore {
	return core.NewMemoryStateStore()
}

func DriveWatchProvider(cfg drive.Config) (core.WatchProvider, error) {
	return drive.New(cfg)
}

func ZIPCSVExtractor(source pipeline.ArchiveSource) (pipeline.Extractor, error) {
	return pipeline.NewZIPCSVExtractor(source)
}

func SheetsWriter(cfg pipeline.SheetsWriterConfig) (pipeline.TabularWriter, error) {
	return pipeline.NewSheetsWriter(cfg)
}

func SeaTalkNotifier(cfg pipeline.SeaTalkNotifierConfig) pipeline.Notifier {
	return pipeline.NewSeaTalkNotifier(cfg)
}

func PipelineUnit(extractor pipeline.Extractor, writer pipeline.TabularWriter, opts ...pipeline.UnitOption) (core.Pipeline, error) {
	return pipeline.NewUnit(extractor, writer, opts...)
}
