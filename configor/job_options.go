package configor

import (
	"github.com/chengcxy/docshift/exception"
	"github.com/mitchellh/mapstructure"
)

// JobOptions is the typed view of the options read once at init.
// Live values (THREAD-COUNT, COMMAND) are read from Options while running.
type JobOptions struct {
	ThreadCount                int    `mapstructure:"THREAD-COUNT"`
	BatchSize                  int    `mapstructure:"BATCH-SIZE"`
	BatchUriDelim              string `mapstructure:"BATCH-URI-DELIM"`
	CollectionName             string `mapstructure:"COLLECTION-NAME"`
	CommandFile                string `mapstructure:"COMMAND-FILE"`
	CommandFilePollInterval    int    `mapstructure:"COMMAND-FILE-POLL-INTERVAL"`
	DiskQueue                  bool   `mapstructure:"DISK-QUEUE"`
	DiskQueueMaxInMemorySize   int    `mapstructure:"DISK-QUEUE-MAX-IN-MEMORY-SIZE"`
	DiskQueueTempDir           string `mapstructure:"DISK-QUEUE-TEMP-DIR"`
	ErrorFileName              string `mapstructure:"ERROR-FILE-NAME"`
	ErrorFileDistinct          bool   `mapstructure:"ERROR-FILE-DISTINCT"`
	ExitCodeNoUris             int    `mapstructure:"EXIT-CODE-NO-URIS"`
	ExportFileAsZip            bool   `mapstructure:"EXPORT_FILE_AS_ZIP"`
	ExportFileBottomContent    string `mapstructure:"EXPORT-FILE-BOTTOM-CONTENT"`
	ExportFileDir              string `mapstructure:"EXPORT-FILE-DIR"`
	ExportFileHeaderLineCount  int    `mapstructure:"EXPORT-FILE-HEADER-LINE-COUNT"`
	ExportFileName             string `mapstructure:"EXPORT-FILE-NAME"`
	ExportFilePartExt          string `mapstructure:"EXPORT-FILE-PART-EXT"`
	ExportFileSort             string `mapstructure:"EXPORT-FILE-SORT"`
	ExportFileSortComparator   string `mapstructure:"EXPORT-FILE-SORT-COMPARATOR"`
	ExportFileTopContent       string `mapstructure:"EXPORT-FILE-TOP-CONTENT"`
	ExportFileUriToPath        bool   `mapstructure:"EXPORT-FILE-URI-TO-PATH"`
	ExportFileS3Bucket         string `mapstructure:"EXPORT-FILE-S3-BUCKET"`
	ExportFileS3Prefix         string `mapstructure:"EXPORT-FILE-S3-PREFIX"`
	ExportFileS3Region         string `mapstructure:"EXPORT-FILE-S3-REGION"`
	ExportFileS3Endpoint       string `mapstructure:"EXPORT-FILE-S3-ENDPOINT"`
	FailOnError                bool   `mapstructure:"FAIL-ON-ERROR"`
	MaxOptsFromModule          int    `mapstructure:"MAX_OPTS_FROM_MODULE"`
	MetricsAddr                string `mapstructure:"METRICS-ADDR"`
	ModuleRoot                 string `mapstructure:"MODULE-ROOT"`
	NumTpsForEtc               int    `mapstructure:"NUM-TPS-FOR-ETC"`
	QueryRetryErrorCodes       string `mapstructure:"QUERY-RETRY-ERROR-CODES"`
	QueryRetryErrorMessage     string `mapstructure:"QUERY-RETRY-ERROR-MESSAGE"`
	QueryRetryInterval         int    `mapstructure:"QUERY-RETRY-INTERVAL"`
	QueryRetryLimit            int    `mapstructure:"QUERY-RETRY-LIMIT"`
	TraceEndpoint              string `mapstructure:"TRACE-ENDPOINT"`
	UrisReplacePattern         string `mapstructure:"URIS-REPLACE-PATTERN"`
	XccConnectionRetryInterval int    `mapstructure:"XCC-CONNECTION-RETRY-INTERVAL"`
	XccConnectionRetryLimit    int    `mapstructure:"XCC-CONNECTION-RETRY-LIMIT"`
}

// Decode resolves every registry key (falling back to defaults) into JobOptions.
// A value that cannot be converted is a config error.
func (o *Options) Decode() (*JobOptions, error) {
	input := map[string]interface{}{
		// -1 lets the export sink count header lines itself
		ExportFileHeaderLineCount: "-1",
	}
	for _, opt := range Registry {
		if v := o.GetOrDefault(opt.Name); v != "" {
			input[opt.Name] = v
		}
	}
	jo := &JobOptions{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           jo,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, exception.WrapConfigError("options", err, "cannot build decoder")
	}
	if err := decoder.Decode(input); err != nil {
		return nil, exception.WrapConfigError("options", err, "invalid option value")
	}
	if jo.ThreadCount < 1 {
		jo.ThreadCount = 1
	}
	if jo.BatchSize < 1 {
		jo.BatchSize = 1
	}
	if jo.NumTpsForEtc < 2 {
		jo.NumTpsForEtc = 10
	}
	if jo.CommandFilePollInterval < 1 {
		jo.CommandFilePollInterval = 1
	}
	if jo.DiskQueueMaxInMemorySize < 1 {
		jo.DiskQueueMaxInMemorySize = 1000
	}
	return jo, nil
}
