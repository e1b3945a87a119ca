package telegram

// Request is a TDLib API function object sent through the engine.
type Request interface {
	Object
	setExtra(id string)
}

type setTdlibParameters struct {
	meta
	UseTestDC             bool   `json:"use_test_dc"`
	DatabaseDirectory     string `json:"database_directory"`
	FilesDirectory        string `json:"files_directory"`
	DatabaseEncryptionKey []byte `json:"database_encryption_key"`
	UseFileDatabase       bool   `json:"use_file_database"`
	UseChatInfoDatabase   bool   `json:"use_chat_info_database"`
	UseMessageDatabase    bool   `json:"use_message_database"`
	UseSecretChats        bool   `json:"use_secret_chats"`
	APIID                 int32  `json:"api_id"`
	APIHash               string `json:"api_hash"`
	SystemLanguageCode    string `json:"system_language_code"`
	DeviceModel           string `json:"device_model"`
	SystemVersion         string `json:"system_version"`
	ApplicationVersion    string `json:"application_version"`
}

type checkDatabaseEncryptionKey struct {
	meta
	EncryptionKey []byte `json:"encryption_key"`
}

type setLogVerbosityLevel struct {
	meta
	NewVerbosityLevel int32 `json:"new_verbosity_level"`
}

type addProxy struct {
	meta
	Server string          `json:"server"`
	Port   int32           `json:"port"`
	Enable bool            `json:"enable"`
	Type   proxyTypeSocks5 `json:"type"`
}

type proxyTypeSocks5 struct {
	meta
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type closeRequest struct {
	meta
}

type searchContacts struct {
	meta
	Query string `json:"query"`
	Limit int32  `json:"limit"`
}

type getUser struct {
	meta
	UserID int64 `json:"user_id"`
}

type searchPublicChat struct {
	meta
	Username string `json:"username"`
}

type contact struct {
	meta
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
}

type importContacts struct {
	meta
	Contacts []contact `json:"contacts"`
}

type createCall struct {
	meta
	UserID   int64        `json:"user_id"`
	Protocol CallProtocol `json:"protocol"`
}

type acceptCall struct {
	meta
	CallID   int32        `json:"call_id"`
	Protocol CallProtocol `json:"protocol"`
}

type discardCall struct {
	meta
	CallID         int32 `json:"call_id"`
	IsDisconnected bool  `json:"is_disconnected"`
	Duration       int32 `json:"duration"`
	ConnectionID   int64 `json:"connection_id,string"`
}
