package renderer

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/vkngwrapper/presentloop/frameloop"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type queueFamilies struct {
	Graphics *int
	Present  *int
}

func (q queueFamilies) complete(headless bool) bool {
	return q.Graphics != nil && (headless || q.Present != nil)
}

// Device owns the instance, the logical device and the objects shared by
// every pipeline built on it. A Device opened without a window is headless:
// it has no surface and can only run compute work.
type Device struct {
	cfg Config

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	driver         core1_0.CoreDeviceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceDriver khr_surface.ExtensionDriver
	surface       khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	families       queueFamilies

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	commandPool   core1_0.CommandPool
	pipelineCache core1_0.PipelineCache
}

// OpenDevice creates the instance and picks a physical device. A nil window
// opens a headless device.
func OpenDevice(cfg Config, window *Window) (*Device, error) {
	d := &Device{cfg: cfg}

	var err error
	if window != nil {
		d.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	} else {
		d.globalDriver, err = core.CreateSystemDriver()
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading vulkan")
	}

	err = d.init(window)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Device) init(window *Window) error {
	var windowExtensions []string
	if window != nil {
		windowExtensions = window.InstanceExtensions()
	}

	err := d.createInstance(windowExtensions)
	if err != nil {
		return err
	}

	if d.cfg.Validation {
		d.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
		d.debugMessenger, _, err = d.debugDriver.CreateDebugUtilsMessenger(nil, d.debugMessengerOptions())
		if err != nil {
			return errors.Wrap(err, "creating debug messenger")
		}
	}

	if window != nil {
		d.surfaceDriver = khr_surface.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
		d.surface, err = vkng_sdl2.CreateSurface(d.instanceDriver.Instance(), d.surfaceDriver, window.handle)
		if err != nil {
			return errors.Wrap(err, "creating surface")
		}
	}

	err = d.pickPhysicalDevice()
	if err != nil {
		return err
	}

	err = d.createLogicalDevice()
	if err != nil {
		return err
	}

	d.commandPool, _, err = d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: *d.families.Graphics,
	})
	if err != nil {
		return errors.Wrap(err, "creating command pool")
	}

	return d.openPipelineCache()
}

func (d *Device) headless() bool {
	return !d.surface.Initialized()
}

func (d *Device) createInstance(windowExtensions []string) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    d.cfg.Title,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "presentloop",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := d.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "listing instance extensions")
	}

	for _, ext := range windowExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("missing instance extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if d.cfg.Validation {
		layers, _, err := d.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "listing instance layers")
		}

		_, hasValidation := layers[validationLayer]
		if !hasValidation {
			return errors.Newf("layer %s not available, install the LunarG Vulkan SDK or disable validation", validationLayer)
		}
		instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, validationLayer)
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		instanceOptions.Next = d.debugMessengerOptions()
	}

	d.instanceDriver, _, err = d.globalDriver.CreateInstance(nil, instanceOptions)
	return errors.Wrap(err, "creating instance")
}

func (d *Device) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	logger := frameloop.Logger().With("type", msgType.String())
	if severity&ext_debug_utils.SeverityError != 0 {
		logger.Error(data.Message)
	} else {
		logger.Warn(data.Message)
	}
	return false
}

type deviceCandidate struct {
	device     core1_0.PhysicalDevice
	properties *core1_0.PhysicalDeviceProperties
	families   queueFamilies
}

// deviceTypeRank orders physical devices: discrete first, then integrated,
// virtual and CPU implementations.
func deviceTypeRank(t core1_0.PhysicalDeviceType) int {
	switch t {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		return 0
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		return 1
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		return 2
	case core1_0.PhysicalDeviceTypeCPU:
		return 3
	default:
		return 4
	}
}

func (d *Device) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerating physical devices")
	}

	var candidates []deviceCandidate
	for _, device := range physicalDevices {
		candidate, ok, err := d.inspectDevice(device)
		if err != nil {
			return err
		}
		if ok {
			candidates = append(candidates, candidate)
		}
	}

	if len(candidates) == 0 {
		return errors.New("no suitable GPU found")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return deviceTypeRank(candidates[i].properties.DriverType) < deviceTypeRank(candidates[j].properties.DriverType)
	})

	chosen := candidates[0]
	d.physicalDevice = chosen.device
	d.properties = chosen.properties
	d.families = chosen.families

	frameloop.Logger().Info("picked physical device",
		"name", chosen.properties.DriverName,
		"type", chosen.properties.DriverType.String(),
		"candidates", len(candidates))
	return nil
}

func (d *Device) inspectDevice(device core1_0.PhysicalDevice) (deviceCandidate, bool, error) {
	properties, err := d.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return deviceCandidate{}, false, errors.Wrap(err, "reading device properties")
	}

	families, err := d.findQueueFamilies(device)
	if err != nil {
		return deviceCandidate{}, false, err
	}
	if !families.complete(d.headless()) {
		return deviceCandidate{}, false, nil
	}

	if !d.headless() {
		extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(device)
		if err != nil {
			return deviceCandidate{}, false, errors.Wrap(err, "listing device extensions")
		}
		_, hasSwapchain := extensions[khr_swapchain.ExtensionName]
		if !hasSwapchain {
			return deviceCandidate{}, false, nil
		}

		support, err := d.querySwapchainSupport(device)
		if err != nil {
			return deviceCandidate{}, false, err
		}
		if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
			return deviceCandidate{}, false, nil
		}
	}

	return deviceCandidate{device: device, properties: properties, families: families}, true, nil
}

// findQueueFamilies looks for a family that can both draw and dispatch
// compute work, and one that can present to the surface.
func (d *Device) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilies, error) {
	var families queueFamilies
	queueFamilyProperties := d.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilyProperties {
		wanted := core1_0.QueueGraphics | core1_0.QueueCompute
		if families.Graphics == nil && queueFamily.QueueFlags&wanted == wanted {
			families.Graphics = new(int)
			*families.Graphics = queueFamilyIdx
		}

		if !d.headless() && families.Present == nil {
			supported, _, err := d.surfaceDriver.GetPhysicalDeviceSurfaceSupport(d.surface, device, queueFamilyIdx)
			if err != nil {
				return families, errors.Wrap(err, "querying surface support")
			}
			if supported {
				families.Present = new(int)
				*families.Present = queueFamilyIdx
			}
		}

		if families.complete(d.headless()) {
			break
		}
	}

	return families, nil
}

func (d *Device) createLogicalDevice() error {
	uniqueQueueFamilies := []int{*d.families.Graphics}
	if d.families.Present != nil && *d.families.Present != *d.families.Graphics {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *d.families.Present)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{1.0},
		})
	}

	var extensionNames []string
	if !d.headless() {
		extensionNames = append(extensionNames, khr_swapchain.ExtensionName)
	}

	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(d.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "listing device extensions")
	}

	// Required on MoltenVK.
	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	d.driver, _, err = d.instanceDriver.CreateDevice(d.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "creating logical device")
	}

	d.graphicsQueue = d.driver.GetQueue(*d.families.Graphics, 0)
	if d.families.Present != nil {
		d.presentQueue = d.driver.GetQueue(*d.families.Present, 0)
	}
	return nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (d *Device) WaitIdle() error {
	_, err := d.driver.DeviceWaitIdle()
	return errors.Wrap(err, "waiting for device idle")
}

// Close saves the pipeline cache and destroys everything OpenDevice created.
// It is safe to call on a partially opened device.
func (d *Device) Close() {
	if d.driver != nil {
		_, _ = d.driver.DeviceWaitIdle()
	}

	if d.pipelineCache.Initialized() {
		err := d.savePipelineCache()
		if err != nil {
			frameloop.Logger().Warn("pipeline cache not saved", "path", d.cfg.PipelineCachePath, "error", err)
		}
		d.driver.DestroyPipelineCache(d.pipelineCache, nil)
		d.pipelineCache = core1_0.PipelineCache{}
	}

	if d.commandPool.Initialized() {
		d.driver.DestroyCommandPool(d.commandPool, nil)
		d.commandPool = core1_0.CommandPool{}
	}

	if d.driver != nil {
		d.driver.DestroyDevice(nil)
		d.driver = nil
	}

	if d.debugMessenger.Initialized() {
		d.debugDriver.DestroyDebugUtilsMessenger(d.debugMessenger, nil)
		d.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if d.surface.Initialized() {
		d.surfaceDriver.DestroySurface(d.surface, nil)
		d.surface = khr_surface.Surface{}
	}

	if d.instanceDriver != nil {
		d.instanceDriver.DestroyInstance(nil)
		d.instanceDriver = nil
	}
}
