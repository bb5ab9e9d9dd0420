// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package config is responsible for loading the tracer configuration from
// various sources, e.g., environment variables, configuration files and user
// input.
//
// In order to add a new configuration item, you need to:
//   - add a field to the Config struct and assign the corresponding env variable
//     name and the default value via struct tags.
//   - add validation code to method `Config.validate()` (optional).
//   - add a method to retrieve the config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// max config file size = 1MB
	maxConfigFileSize = 1024 * 1024
)

// The environment variables
const (
	envOtterTracePath                 = "OTTER_TRACE_PATH"
	envOtterTraceName                 = "OTTER_TRACE_NAME"
	envOtterAppendHostname            = "OTTER_APPEND_HOSTNAME"
	envOtterArchiveFormat             = "OTTER_ARCHIVE_FORMAT"
	envOtterEventModel                = "OTTER_EVENT_MODEL"
	envOtterTaskSwitchMode            = "OTTER_TASK_SWITCH_MODE"
	envOtterSuppressInitialTaskCreate = "OTTER_SUPPRESS_INITIAL_TASK_CREATE"
	envOtterCopyMaps                  = "OTTER_COPY_MAPS"
	envOtterStringCacheSize           = "OTTER_STRING_CACHE_SIZE"
	envOtterSqliteBatchSize           = "OTTER_SQLITE_BATCH_SIZE"
	envOtterDisabled                  = "OTTER_DISABLED"
	envOtterConfigFile                = "OTTER_CONFIG_FILE"
)

// Errors
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFileTooLarge      = errors.New("file size exceeds limit")
)

// Config is the struct to define the tracer configuration. A Config is read
// once when a trace session is opened and is not updated afterwards.
type Config struct {
	sync.RWMutex `yaml:"-"`

	// TracePath is the directory in which trace archives are created
	TracePath string `yaml:",omitempty" env:"OTTER_TRACE_PATH" default:"trace"`

	// TraceName is the base name of the archive
	TraceName string `yaml:",omitempty" env:"OTTER_TRACE_NAME" default:"otter_trace"`

	// Whether the hostname is appended to the archive name
	AppendHostname bool `yaml:",omitempty" env:"OTTER_APPEND_HOSTNAME"`

	// The on-disk archive format: bson, msgpack or sqlite
	Format string `yaml:",omitempty" env:"OTTER_ARCHIVE_FORMAT" default:"bson"`

	// The event model recorded as an archive property
	EventModel string `yaml:",omitempty" env:"OTTER_EVENT_MODEL" default:"task-graph"`

	// How task switches are recorded: discrete or pair
	TaskSwitchMode string `yaml:",omitempty" env:"OTTER_TASK_SWITCH_MODE" default:"discrete"`

	// Whether adapters skip the task-create event of initial tasks
	SuppressInitialTaskCreate bool `yaml:",omitempty" env:"OTTER_SUPPRESS_INITIAL_TASK_CREATE" default:"true"`

	// Whether /proc/self/maps is copied into the archive
	CopyMemoryMap bool `yaml:",omitempty" env:"OTTER_COPY_MAPS" default:"true"`

	// Size in bytes of the string registry front cache
	StringCacheSize int `yaml:",omitempty" env:"OTTER_STRING_CACHE_SIZE" default:"1048576"`

	// Rows buffered by the sqlite archive before a flush
	BatchSize int `yaml:",omitempty" env:"OTTER_SQLITE_BATCH_SIZE" default:"10000"`

	// Disabled starts the tracer in the stopped state
	Disabled bool `yaml:",omitempty" env:"OTTER_DISABLED"`
}

// Option is a function type that accepts a Config pointer and
// applies the configuration option it defines.
type Option func(c *Config)

// WithTracePath defines a Config option for the archive directory.
func WithTracePath(path string) Option {
	return func(c *Config) {
		c.TracePath = path
	}
}

// WithTraceName defines a Config option for the archive base name.
func WithTraceName(name string) Option {
	return func(c *Config) {
		c.TraceName = name
	}
}

// WithFormat defines a Config option for the archive format.
func WithFormat(format string) Option {
	return func(c *Config) {
		c.Format = format
	}
}

// WithEventModel defines a Config option for the event model property.
func WithEventModel(model string) Option {
	return func(c *Config) {
		c.EventModel = model
	}
}

// WithTaskSwitchMode defines a Config option for the task-switch recording.
func WithTaskSwitchMode(mode string) Option {
	return func(c *Config) {
		c.TaskSwitchMode = mode
	}
}

// WithAppendHostname defines a Config option for appending the hostname.
func WithAppendHostname(append bool) Option {
	return func(c *Config) {
		c.AppendHostname = append
	}
}

// WithCopyMemoryMap defines a Config option for copying the memory map.
func WithCopyMemoryMap(copy bool) Option {
	return func(c *Config) {
		c.CopyMemoryMap = copy
	}
}

// WithSuppressInitialTaskCreate defines a Config option for the initial
// task-create event.
func WithSuppressInitialTaskCreate(suppress bool) Option {
	return func(c *Config) {
		c.SuppressInitialTaskCreate = suppress
	}
}

// WithDisabled defines a Config option which starts the tracer stopped.
func WithDisabled(disabled bool) Option {
	return func(c *Config) {
		c.Disabled = disabled
	}
}

// NewConfig initializes a Config object and overrides default values with
// options provided as arguments. It may print errors if there are invalid
// values in the configuration file or the environment variables.
//
// If there is an error (e.g., the config file cannot be parsed), it returns a
// config with default values.
func NewConfig(opts ...Option) *Config {
	c := newConfig()
	if err := c.RefreshConfig(opts...); err != nil {
		e := errors.Wrap(err, "Config init failed, falling back to default values")
		log.Error(e)
		c.reset()
		for _, opt := range opts {
			opt(c)
		}
		c.validate()
	}
	return c
}

func (c *Config) validate() {
	c.TracePath = strings.TrimSpace(c.TracePath)
	if ok := IsValidTracePath(c.TracePath); !ok {
		log.Warning(InvalidEnv("TracePath", c.TracePath))
		c.TracePath = getFieldDefaultValue(c, "TracePath")
	}

	c.TraceName = strings.TrimSpace(c.TraceName)
	if ok := IsValidTraceName(c.TraceName); !ok {
		log.Warning(InvalidEnv("TraceName", c.TraceName))
		c.TraceName = getFieldDefaultValue(c, "TraceName")
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if ok := IsValidFormat(c.Format); !ok {
		log.Warning(InvalidEnv("Format", c.Format))
		c.Format = getFieldDefaultValue(c, "Format")
	}

	c.EventModel = ToEventModel(c.EventModel)
	if ok := IsValidEventModel(c.EventModel); !ok {
		log.Warning(InvalidEnv("EventModel", c.EventModel))
		c.EventModel = getFieldDefaultValue(c, "EventModel")
	}

	c.TaskSwitchMode = strings.ToLower(strings.TrimSpace(c.TaskSwitchMode))
	if ok := IsValidTaskSwitchMode(c.TaskSwitchMode); !ok {
		log.Warning(InvalidEnv("TaskSwitchMode", c.TaskSwitchMode))
		c.TaskSwitchMode = getFieldDefaultValue(c, "TaskSwitchMode")
	}

	if ok := IsValidCacheSize(c.StringCacheSize); !ok {
		log.Warning(InvalidEnv("StringCacheSize", strconv.Itoa(c.StringCacheSize)))
		c.StringCacheSize = ToInteger(getFieldDefaultValue(c, "StringCacheSize"))
	}

	if c.BatchSize <= 0 {
		log.Warning(InvalidEnv("BatchSize", strconv.Itoa(c.BatchSize)))
		c.BatchSize = ToInteger(getFieldDefaultValue(c, "BatchSize"))
	}
}

// RefreshConfig loads the customized settings and merge with default values
func (c *Config) RefreshConfig(opts ...Option) error {
	c.Lock()
	defer c.Unlock()

	c.reset()

	if err := c.loadConfigFile(); err != nil {
		return errors.Wrap(err, "RefreshConfig")
	}
	c.loadEnvs()

	for _, opt := range opts {
		opt(c)
	}
	c.validate()

	c.printDelta()

	return nil
}

func (c *Config) printDelta() {
	base := newConfig().reset()
	if delta := getDelta(base, c); len(delta.items()) > 0 {
		log.Infof("Accepted config items: \n%s", delta)
	}
}

// DeltaItem defines a delta item of two Config objects
type DeltaItem struct {
	key        string
	env        string
	value      string
	defaultVal string
}

// Delta defines the overall delta of two Config objects
type Delta struct {
	delta []DeltaItem
}

func (d *Delta) add(item ...DeltaItem) {
	d.delta = append(d.delta, item...)
}

func (d *Delta) items() []DeltaItem {
	return d.delta
}

func (d *Delta) String() string {
	var s []string
	for _, item := range d.delta {
		s = append(s, fmt.Sprintf("%s(%s)=%s (default=%s)",
			item.key,
			item.env,
			item.value,
			item.defaultVal))
	}
	return strings.Join(s, "\n")
}

// GetDelta returns the items which differ from the defaults.
func (c *Config) GetDelta() *Delta {
	c.RLock()
	defer c.RUnlock()
	return getDelta(newConfig().reset(), c)
}

// getDelta compares two instances of the same struct and returns the delta.
func getDelta(base, changed interface{}) *Delta {
	delta := &Delta{}

	baseVal := reflect.Indirect(reflect.ValueOf(base))
	changedVal := reflect.Indirect(reflect.ValueOf(changed))

	if changedVal.Kind() != reflect.Struct {
		return delta
	}

	for i := 0; i < changedVal.NumField(); i++ {
		typeFieldChanged := changedVal.Type().Field(i)
		if typeFieldChanged.Anonymous {
			continue
		}

		fieldChanged := reflect.Indirect(changedVal.Field(i))
		fieldBase := reflect.Indirect(baseVal.Field(i))

		if fieldChanged.Kind() == reflect.Struct {
			subDelta := getDelta(fieldBase.Interface(), fieldChanged.Interface())
			delta.add(subDelta.items()...)
		} else if fieldChanged.CanSet() &&
			fieldBase.Interface() != fieldChanged.Interface() {
			delta.add(DeltaItem{
				key:        typeFieldChanged.Name,
				env:        typeFieldChanged.Tag.Get("env"),
				value:      fmt.Sprintf("%v", fieldChanged.Interface()),
				defaultVal: fmt.Sprintf("%v", fieldBase.Interface()),
			})
		}
	}
	return delta
}

func newConfig() *Config {
	return &Config{}
}

func (c *Config) reset() *Config {
	return initStruct(c).(*Config)
}

func getFieldDefaultValue(i interface{}, name string) string {
	iv := reflect.Indirect(reflect.ValueOf(i))
	if iv.Kind() != reflect.Struct {
		panic("calling getFieldDefaultValue with non-struct type")
	}

	field, ok := iv.Type().FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("invalid field: %s", name))
	}

	return field.Tag.Get("default")
}

// initStruct initialize the struct with the default values of the struct tags
// The input must be an addressable struct object (or its pointer)
func initStruct(c interface{}) interface{} {
	val := reflect.Indirect(reflect.ValueOf(c))

	for i := 0; i < val.NumField(); i++ {
		fieldVal := reflect.Indirect(val.Field(i))
		field := val.Type().Field(i)

		if field.Anonymous || !fieldVal.CanSet() {
			continue
		}
		if fieldVal.Kind() == reflect.Struct {
			initStruct(val.Field(i).Interface())
		} else {
			tagDefault := field.Tag.Get("default")
			setField(c, field, stringToValue(tagDefault, field.Type))
		}
	}

	return c
}

// setField assigns `val` to struct c's field specified by the name `field`. It
// first checks if there is a setter method `Set+FieldName` for this field, and
// calls the setter if so. Otherwise if will set the value directly via the
// reflect.Value.Set function.
//
// The `val` must have the same dynamic type as the field, otherwise it will panic.
func setField(c interface{}, field reflect.StructField, val reflect.Value) {
	cVal := reflect.Indirect(reflect.ValueOf(c))
	if cVal.Kind() != reflect.Struct {
		return
	}

	fieldVal := reflect.Indirect(cVal.FieldByName(field.Name))
	if !fieldVal.IsValid() {
		return
	}

	fieldKind := field.Type.Kind()
	if !fieldVal.CanSet() || field.Anonymous || fieldKind == reflect.Struct {
		log.Warningf("Failed to set field: %s val: %v", field.Name, val.Interface())
		return
	}

	setMethodName := fmt.Sprintf("Set%s", field.Name)
	setMethodV := reflect.ValueOf(c).MethodByName(setMethodName)

	if setMethodV.IsValid() &&
		setMethodV.Type().NumIn() == 1 &&
		setMethodV.Type().In(0).Kind() == fieldKind {
		setMethodV.Call([]reflect.Value{val})
	} else {
		fieldVal.Set(val)
	}
}

// stringToValue converts a string to a value of the given type.
func stringToValue(s string, typ reflect.Type) reflect.Value {
	s = strings.TrimSpace(s)

	var val interface{}
	var err error
	switch typ.Kind() {
	case reflect.Int, reflect.Int64:
		if s == "" {
			s = "0"
		}
		var n int64
		n, err = parseSize(s)
		if err != nil {
			log.Warningf("invalid integer ignored: %v", err)
		}
		val = n
	case reflect.String:
		val = s
	case reflect.Bool:
		if s == "" {
			s = "false"
		}
		val, err = parseBool(s)
		if err != nil {
			log.Warningf("invalid boolean ignored: %v", err)
		}
	default:
		panic(fmt.Sprintf("Unsupported kind: %v, val: %s", typ.Kind(), s))
	}
	return reflect.ValueOf(val).Convert(typ)
}

// loadEnvs loads environment variable values and update the Config object.
func (c *Config) loadEnvs() {
	loadEnvsInternal(c)
}

// c must be a pointer to a struct object
func loadEnvsInternal(c interface{}) {
	cv := reflect.Indirect(reflect.ValueOf(c))
	ct := cv.Type()

	if !cv.CanSet() {
		return
	}

	for i := 0; i < ct.NumField(); i++ {
		fieldV := reflect.Indirect(cv.Field(i))
		if !fieldV.CanSet() || ct.Field(i).Anonymous {
			continue
		}

		field := ct.Field(i)
		if fieldV.Kind() == reflect.Struct {
			loadEnvsInternal(cv.Field(i).Interface())
			continue
		}

		tagV := field.Tag.Get("env")
		if tagV == "" {
			continue
		}

		envVal, ok := Env(tagV).Lookup()
		if !ok {
			continue
		}

		setField(c, field, stringToValue(envVal, field.Type))
	}
}

// getConfigPath returns the absolute path of the config file.
func (c *Config) getConfigPath() string {
	path, ok := Env(envOtterConfigFile).Lookup()
	if ok {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		} else {
			log.Warningf("Ignore config file %s: %s", path, err)
		}
	}

	candidates := []string{
		"./otter.yaml",
		"./otter.yml",
		"/etc/otter.yaml",
		"/etc/otter.yml",
	}

	for _, file := range candidates {
		abs, err := filepath.Abs(file)
		if err != nil {
			continue
		}
		if _, e := os.Stat(abs); e != nil {
			continue
		}
		return abs
	}

	return ""
}

func (c *Config) loadYaml(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "loadYaml")
	}

	// The config struct is modified in place so we won't tolerate any error
	if err = yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "loadYaml")
	}
	return nil
}

func (c *Config) checkFileSize(path string) error {
	file, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "checkFileSize")
	}
	size := file.Size()
	if size > maxConfigFileSize {
		return errors.Wrap(ErrFileTooLarge, fmt.Sprintf("File size: %d", size))
	}
	return nil
}

// loadConfigFile loads from the config file
func (c *Config) loadConfigFile() error {
	path := c.getConfigPath()
	if path == "" {
		log.Debug("No config file found.")
		return nil
	}

	if err := c.checkFileSize(path); err != nil {
		return errors.Wrap(err, "loadConfigFile")
	}

	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		log.Infof("Loading config file: %s", path)
		return c.loadYaml(path)
	default:
		return errors.Wrap(ErrUnsupportedFormat, path)
	}
}

// GetTracePath returns the directory in which archives are created
func (c *Config) GetTracePath() string {
	c.RLock()
	defer c.RUnlock()
	return c.TracePath
}

// GetTraceName returns the archive base name
func (c *Config) GetTraceName() string {
	c.RLock()
	defer c.RUnlock()
	return c.TraceName
}

// GetAppendHostname returns if the hostname is appended to the archive name
func (c *Config) GetAppendHostname() bool {
	c.RLock()
	defer c.RUnlock()
	return c.AppendHostname
}

// GetFormat returns the archive format
func (c *Config) GetFormat() string {
	c.RLock()
	defer c.RUnlock()
	return c.Format
}

// GetEventModel returns the event model
func (c *Config) GetEventModel() string {
	c.RLock()
	defer c.RUnlock()
	return c.EventModel
}

// GetTaskSwitchMode returns how task switches are recorded
func (c *Config) GetTaskSwitchMode() string {
	c.RLock()
	defer c.RUnlock()
	return c.TaskSwitchMode
}

// GetSuppressInitialTaskCreate returns if initial task-create events are
// skipped
func (c *Config) GetSuppressInitialTaskCreate() bool {
	c.RLock()
	defer c.RUnlock()
	return c.SuppressInitialTaskCreate
}

// GetCopyMemoryMap returns if the memory map is copied into the archive
func (c *Config) GetCopyMemoryMap() bool {
	c.RLock()
	defer c.RUnlock()
	return c.CopyMemoryMap
}

// GetStringCacheSize returns the size of the string registry cache
func (c *Config) GetStringCacheSize() int {
	c.RLock()
	defer c.RUnlock()
	return c.StringCacheSize
}

// GetBatchSize returns the sqlite batch size
func (c *Config) GetBatchSize() int {
	c.RLock()
	defer c.RUnlock()
	return c.BatchSize
}

// GetDisabled returns if the tracer starts stopped
func (c *Config) GetDisabled() bool {
	c.RLock()
	defer c.RUnlock()
	return c.Disabled
}

// SetFormat assigns the archive format in its canonical lower-case form.
// Note: Do not change the method name as it (`Set`+Field name) is used in
// method `loadEnvsInternal` to assign the values loaded from env variables
// dynamically.
func (c *Config) SetFormat(format string) {
	c.Format = strings.ToLower(strings.TrimSpace(format))
}

// SetTaskSwitchMode assigns the task-switch mode in its canonical form.
func (c *Config) SetTaskSwitchMode(mode string) {
	c.TaskSwitchMode = strings.ToLower(strings.TrimSpace(mode))
}
