package container

import "time"

// Status is a container's advisory lifecycle state. It reflects what
// the Container Manager last observed; the Process Supervisor's PID
// file and port binding are the actual source of truth.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Manifest is container.json's on-disk shape.
type Manifest struct {
	Name        string    `json:"name"`
	Engine      string    `json:"engine"`
	Version     string    `json:"version"`
	Port        int       `json:"port"`
	Database    string    `json:"database"`
	Databases   []string  `json:"databases"`
	Created     time.Time `json:"created"`
	Status      Status    `json:"status"`
	ClonedFrom string `json:"clonedFrom,omitempty"`
	// CloneID correlates a clone operation's source and destination
	// manifests beyond the plain ClonedFrom name, surviving a later
	// rename of either container.
	CloneID    string    `json:"cloneId,omitempty"`
	BinaryPath string    `json:"binaryPath,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Container pairs a loaded Manifest with the filesystem paths the
// Container Manager resolved for it.
type Container struct {
	Manifest Manifest

	DataDir      string
	LogFile      string
	PidFile      string
	ConfFile     string
	BinaryDir    string
	ManifestFile string
}
