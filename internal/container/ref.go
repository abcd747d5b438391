package container

// Container satisfies engine.ContainerRef directly: these accessor
// methods are the narrow view an Adapter needs, kept here rather than
// in internal/engine to avoid that package importing this one.

func (c *Container) ContainerName() string           { return c.Manifest.Name }
func (c *Container) ContainerPort() int               { return c.Manifest.Port }
func (c *Container) ContainerDataDir() string         { return c.DataDir }
func (c *Container) ContainerLogFile() string         { return c.LogFile }
func (c *Container) ContainerPidFile() string         { return c.PidFile }
func (c *Container) ContainerConfFile() string        { return c.ConfFile }
func (c *Container) ContainerBinaryDir() string       { return c.BinaryDir }
func (c *Container) ContainerPrimaryDatabase() string { return c.Manifest.Database }
